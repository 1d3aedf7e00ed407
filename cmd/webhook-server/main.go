/*
Copyright 2021.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"os"
	"time"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"
	"sigs.k8s.io/controller-runtime/pkg/webhook"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	sentinelconfig "github.com/aslitaser/k8s-sentinel/internal/config"
	"github.com/aslitaser/k8s-sentinel/internal/engine"
	"github.com/aslitaser/k8s-sentinel/internal/metrics"
	"github.com/aslitaser/k8s-sentinel/internal/policy"
	sentinelwebhook "github.com/aslitaser/k8s-sentinel/internal/webhook"
)

const metricsShutdownTimeout = 5 * time.Second

//nolint:gochecknoglobals // Following the kubebuilder pattern
var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

func main() {
	retcode := 0
	defer func() { os.Exit(retcode) }()

	var configPath string
	var configMapNamespace string
	var configMapName string
	var configMapKey string
	var metricsAddr string
	var probeAddr string
	var certDir string
	var webhookPort int
	var enableMetrics bool

	flag.StringVar(&configPath, "config", "/etc/k8s-sentinel/policy.yaml", "Path to the policy configuration file. Ignored when -configmap-name is set.")
	flag.StringVar(&configMapNamespace, "configmap-namespace", "", "Namespace of the ConfigMap to load the policy configuration from. Requires -configmap-name.")
	flag.StringVar(&configMapName, "configmap-name", "", "Name of the ConfigMap to load the policy configuration from, instead of -config.")
	flag.StringVar(&configMapKey, "configmap-key", "policy.yaml", "Key within the ConfigMap's data holding the policy configuration.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8088", "The address the metric endpoint binds to.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	flag.StringVar(&certDir, "cert-dir", "/etc/k8s-sentinel/certs", "Directory containing tls.crt and tls.key for the webhook server.")
	flag.IntVar(&webhookPort, "webhook-port", 9443, "Port the webhook server listens on.")
	flag.BoolVar(&enableMetrics, "enable-metrics", false, "Enable OpenTelemetry metrics export.")

	opts := zap.Options{}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	var cfg policy.Config
	var err error
	if configMapName != "" {
		var client kubernetes.Interface
		client, err = kubernetes.NewForConfig(ctrl.GetConfigOrDie())
		if err != nil {
			setupLog.Error(err, "unable to build kubernetes client for configmap loading")
			retcode = 1
			return
		}
		cfg, err = sentinelconfig.LoadFromConfigMap(context.Background(), client, configMapNamespace, configMapName, configMapKey)
		if err != nil {
			setupLog.Error(err, "unable to load policy configuration from configmap",
				"namespace", configMapNamespace, "name", configMapName, "key", configMapKey)
			retcode = 1
			return
		}
		setupLog.Info("loaded policy configuration from configmap", "namespace", configMapNamespace, "name", configMapName)
	} else {
		var raw []byte
		raw, err = os.ReadFile(configPath)
		if err != nil {
			setupLog.Error(err, "unable to read policy configuration", "path", configPath)
			retcode = 1
			return
		}
		cfg, err = sentinelconfig.Load(raw)
		if err != nil {
			setupLog.Error(err, "unable to parse policy configuration", "path", configPath)
			retcode = 1
			return
		}
	}

	var recorder *metrics.Recorder
	if enableMetrics {
		var shutdown func(context.Context) error
		recorder, shutdown, err = metrics.New()
		if err != nil {
			setupLog.Error(err, "unable to initialize metrics provider")
			retcode = 1
			return
		}
		setupLog.Info("metrics initialized")

		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				setupLog.Error(err, "unable to shutdown telemetry")
				retcode = 1
			}
		}()
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme: scheme,
		Metrics: metricsserver.Options{
			BindAddress: metricsAddr,
		},
		HealthProbeBindAddress: probeAddr,
		WebhookServer: webhook.NewServer(webhook.Options{
			Port:    webhookPort,
			CertDir: certDir,
		}),
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		retcode = 1
		return
	}

	hookServer := mgr.GetWebhookServer()
	hookServer.Register("/validate", &admission.Webhook{Handler: &sentinelwebhook.Handler{
		Config:  cfg,
		Mode:    engine.ValidateEndpoint,
		Log:     ctrl.Log.WithName("validate"),
		Metrics: recorder,
	}})
	hookServer.Register("/mutate", &admission.Webhook{Handler: &sentinelwebhook.Handler{
		Config:  cfg,
		Mode:    engine.MutateEndpoint,
		Log:     ctrl.Log.WithName("mutate"),
		Metrics: recorder,
	}})

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		retcode = 1
		return
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		retcode = 1
		return
	}

	setupLog.Info("starting webhook server")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		retcode = 1
		return
	}
}
