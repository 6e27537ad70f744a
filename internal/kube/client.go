// File: internal/kube/client.go
// Brief: Kubernetes client construction for tklogs.

// Package kube builds the typed and dynamic clients tklogs reads pods, logs and
// Tekton TaskRuns with.
package kube

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/example/tklogs/internal/version"
)

const (
	lookupTimeout = 30 * time.Second
	// TektonGroupVersion is the TaskRun API tklogs reads.
	TektonGroupVersion = "tekton.dev/v1"
)

// Client bundles the Kubernetes clients used throughout the application.
type Client struct {
	RESTConfig *rest.Config
	Clientset  kubernetes.Interface
	Dynamic    dynamic.Interface
	Namespace  string
}

// New builds clients from the kubeconfig at kubeconfigPath (default loading
// rules when empty) and the named context (current context when empty).
func New(ctx context.Context, kubeconfigPath, contextName string) (*Client, error) {
	clientConfig, err := loadClientConfig(kubeconfigPath, contextName)
	if err != nil {
		return nil, err
	}
	namespace, _, err := clientConfig.Namespace()
	if err != nil {
		return nil, fmt.Errorf("resolve default namespace: %w", err)
	}
	restConfig, err := clientConfig.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("build rest config: %w", err)
	}
	rest.SetDefaultWarningHandler(rest.NoWarnings{})
	restConfig.UserAgent = "tklogs/" + version.Version
	// Log streams are long-lived, so no client-wide Timeout; short calls use Timeout(ctx).
	restConfig.QPS = 50
	restConfig.Burst = 100

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("create typed client: %w", err)
	}
	dyn, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("create dynamic client: %w", err)
	}
	return &Client{RESTConfig: restConfig, Clientset: clientset, Dynamic: dyn, Namespace: namespace}, nil
}

func loadClientConfig(kubeconfigPath, contextName string) (clientcmd.ClientConfig, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfigPath != "" {
		expanded, err := homedir.Expand(kubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("expand kubeconfig path: %w", err)
		}
		rules.Precedence = []string{filepath.Clean(expanded)}
	}
	overrides := &clientcmd.ConfigOverrides{}
	if contextName != "" {
		overrides.CurrentContext = contextName
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides), nil
}

// Timeout bounds the short, non-streaming API calls.
func Timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, lookupTimeout)
}

// TektonServed reports whether the cluster serves Tekton TaskRuns.
func TektonServed(disc discovery.DiscoveryInterface) (bool, error) {
	if disc == nil {
		return false, nil
	}
	list, err := disc.ServerResourcesForGroupVersion(TektonGroupVersion)
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("discover %s: %w", TektonGroupVersion, err)
	}
	for _, r := range list.APIResources {
		if r.Name == "taskruns" {
			return true, nil
		}
	}
	return false, nil
}
