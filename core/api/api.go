// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package api is the facade of the facet engine: lifecycle, event bus,
// plugin registry, per-resource action dispatch and the HTTP surface.
package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tessella-io/facet/core/assembly"
	"github.com/tessella-io/facet/core/config"
	"github.com/tessella-io/facet/core/datasource"
	"github.com/tessella-io/facet/core/executor"
	"github.com/tessella-io/facet/core/fault"
	"github.com/tessella-io/facet/core/logger"
	"github.com/tessella-io/facet/core/request"
	"github.com/tessella-io/facet/core/schema"
)

// ActionFunc handles one custom resource action.
type ActionFunc func(ctx context.Context, req *request.Request) (*assembly.Response, error)

// Action is one action of a resource, optionally dispatched by response
// format. Default serves the json format.
type Action struct {
	Default ActionFunc
	Formats map[string]ActionFunc
}

// Extensions are the per-resource user callbacks of the retrieve
// pipeline.
type Extensions struct {
	// Init runs before the request is resolved.
	Init func(ctx context.Context, req *request.Request) error
	// Item may inspect and mutate every assembled item.
	Item assembly.ItemHook
	// PreExecute runs after resolving, before any datasource I/O.
	PreExecute func(ctx context.Context, tree *datasource.TreeNode) error
	// PostExecute runs after all datasource I/O, before assembly.
	PostExecute func(ctx context.Context, results []*datasource.RawResult) error
}

// Resource is the code side of a configured resource: custom actions and
// pipeline extensions.
type Resource struct {
	Actions    map[string]Action
	Extensions Extensions
}

// Builder assembles an API.
type Builder struct {
	// ResourcesPath is a directory of resource configuration files,
	// loaded at Init. Exclusive with Resources.
	ResourcesPath string
	// Resources maps resource names to literal JSON configuration
	// documents. Exclusive with ResourcesPath.
	Resources map[string]string
	// Parsers overrides the config parser registry. Defaults to json and
	// yaml.
	Parsers map[string]config.ParseFunc
	// Adapters is the datasource adapter registry, keyed by type. This
	// is mandatory.
	Adapters map[string]datasource.Adapter
	// Router is a mux router. The HTTP surface attaches when set.
	Router *mux.Router
	// If populated with a logger, the logger will be used. Otherwise a
	// logger with LogLevel will be created.
	Logger *logrus.Logger
	// The loglevel to be used by the logger if Logger is nil. Default is
	// "info".
	LogLevel string
	// ExposeErrors returns implementation error messages to clients.
	// Meant for development setups only.
	ExposeErrors bool
	// PostReadTimeout bounds reading a POST body. Default is 10 seconds.
	PostReadTimeout time.Duration
}

// API is the engine facade.
type API struct {
	resources atomic.Pointer[map[string]*config.Node]

	mu    sync.RWMutex
	impls map[string]*Resource

	exec      *executor.Executor
	events    *eventBus
	plugins   sync.Map
	validator *schema.Validator

	resourcesPath   string
	resourceDocs    map[string]string
	parsers         map[string]config.ParseFunc
	exposeErrors    bool
	postReadTimeout time.Duration
}

// New wires an API from the builder. Configuration is loaded by Init.
func New(bb *Builder) (*API, error) {
	if len(bb.Adapters) == 0 {
		return nil, fault.ErrInvalidConfig.New("no datasource adapters registered")
	}
	if bb.Logger != nil {
		logrus.SetFormatter(bb.Logger.Formatter)
		logrus.SetLevel(bb.Logger.Level)
		logrus.SetOutput(bb.Logger.Out)
	} else {
		logger.InitLogger(logger.ParseLevel(bb.LogLevel))
	}
	validator, err := schema.NewValidator()
	if err != nil {
		return nil, err
	}
	postReadTimeout := bb.PostReadTimeout
	if postReadTimeout == 0 {
		postReadTimeout = 10 * time.Second
	}
	a := &API{
		impls:           make(map[string]*Resource),
		exec:            executor.New(bb.Adapters),
		events:          newEventBus(),
		validator:       validator,
		resourcesPath:   bb.ResourcesPath,
		resourceDocs:    bb.Resources,
		parsers:         bb.Parsers,
		exposeErrors:    bb.ExposeErrors,
		postReadTimeout: postReadTimeout,
	}
	if bb.Router != nil {
		a.Attach(bb.Router)
	}
	return a, nil
}

// MustNew wires an API and panics on error.
func MustNew(bb *Builder) *API {
	a, err := New(bb)
	if err != nil {
		panic(err)
	}
	return a
}

// Init loads and validates the resource configuration and emits the init
// event.
func (a *API) Init(ctx context.Context) error {
	if err := a.loadConfiguration(); err != nil {
		return err
	}
	a.events.emit(ctx, EventInit, nil)
	return nil
}

// ReloadConfig atomically swaps in a freshly loaded configuration.
// In-flight requests finish against the previous snapshot.
func (a *API) ReloadConfig() error {
	return a.loadConfiguration()
}

func (a *API) loadConfiguration() error {
	var resources map[string]*config.Node
	var err error
	switch {
	case a.resourcesPath != "":
		resources, err = config.LoadResources(a.resourcesPath, a.parsers)
		if err != nil {
			return err
		}
	case a.resourceDocs != nil:
		resources = make(map[string]*config.Node, len(a.resourceDocs))
		for name, doc := range a.resourceDocs {
			if err := a.validator.ValidateString(doc, schema.ResourceSchemaID); err != nil {
				return fault.ErrInvalidConfig.New("resource " + name + ": " + err.Error())
			}
			node, err := config.ParseJSON([]byte(doc))
			if err != nil {
				return err
			}
			resources[name] = node
		}
		if err := config.Normalize(resources); err != nil {
			return err
		}
	default:
		return fault.ErrInvalidConfig.New("neither ResourcesPath nor Resources configured")
	}
	a.resources.Store(&resources)
	logger.Default().Infof("loaded %d resources", len(resources))
	return nil
}

// Register adds the code side of a resource: custom actions and
// extensions. Registration replaces a previous registration of the same
// resource.
func (a *API) Register(resource string, impl *Resource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.impls[resource] = impl
}

// On subscribes an event handler. Handlers run in registration order.
func (a *API) On(event string, handler EventHandler) {
	a.events.on(event, handler)
}

// RegisterPlugin stores a named plugin.
func (a *API) RegisterPlugin(name string, plugin any) {
	a.plugins.Store(name, plugin)
}

// Plugin returns a registered plugin. Unknown names are an error.
func (a *API) Plugin(name string) (any, error) {
	plugin, ok := a.plugins.Load(name)
	if !ok {
		return nil, fault.ErrUnknownPlugin.New(name)
	}
	return plugin, nil
}

// Close emits the close event and shuts down all adapters.
func (a *API) Close(ctx context.Context) error {
	a.events.emit(ctx, EventClose, nil)
	return a.exec.Close()
}

func (a *API) snapshot() map[string]*config.Node {
	resources := a.resources.Load()
	if resources == nil {
		return nil
	}
	return *resources
}

func (a *API) implOf(resource string) *Resource {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.impls[resource]
}

func (a *API) itemHooks() map[string]assembly.ItemHook {
	a.mu.RLock()
	defer a.mu.RUnlock()
	hooks := make(map[string]assembly.ItemHook, len(a.impls))
	for name, impl := range a.impls {
		if impl != nil && impl.Extensions.Item != nil {
			hooks[name] = impl.Extensions.Item
		}
	}
	return hooks
}
