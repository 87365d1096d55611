// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"context"
	"time"

	"github.com/tessella-io/facet/core"
	"github.com/tessella-io/facet/core/assembly"
	"github.com/tessella-io/facet/core/config"
	"github.com/tessella-io/facet/core/fault"
	"github.com/tessella-io/facet/core/logger"
	"github.com/tessella-io/facet/core/request"
	"github.com/tessella-io/facet/core/resolver"
)

// Execute runs one request through the engine: dispatch to the
// resource's action, which for retrieve is the resolve, execute,
// assemble pipeline. The context carries cancellation through every
// adapter call.
func (a *API) Execute(ctx context.Context, req *request.Request) (*assembly.Response, error) {
	ctx, rlog := logger.ContextWithLogger(ctx)
	resources := a.snapshot()
	if resources == nil {
		return nil, fault.ErrNotInitialized.New()
	}

	if err := a.events.emit(ctx, EventRequest, req); err != nil {
		return nil, fault.ErrRejectedByHandler.New(err.Error())
	}

	started := time.Now()
	response, err := a.dispatch(ctx, req, resources)
	if err != nil {
		a.events.emit(ctx, EventResponse, err)
		return nil, err
	}
	a.events.emit(ctx, EventResponse, response)
	rlog.Debugf("%s %s served in %s", req.EffectiveAction(), req.Resource, time.Since(started))
	return response, nil
}

func (a *API) dispatch(ctx context.Context, req *request.Request, resources map[string]*config.Node) (*assembly.Response, error) {
	action := req.EffectiveAction()
	impl := a.implOf(req.Resource)

	if impl != nil {
		if act, ok := impl.Actions[action]; ok {
			fn, err := actionForFormat(act, action, req.EffectiveFormat())
			if err != nil {
				return nil, err
			}
			return fn(ctx, req)
		}
	}
	if action != core.DefaultAction {
		return nil, fault.ErrUnknownAction.New(action, req.Resource)
	}
	return a.retrieve(ctx, req, resources, impl)
}

// actionForFormat picks the handler of a format-dispatched action: the
// default handler serves json, everything else needs an explicit entry.
func actionForFormat(act Action, action, format string) (ActionFunc, error) {
	if format == core.DefaultFormat && act.Default != nil {
		return act.Default, nil
	}
	if fn, ok := act.Formats[format]; ok {
		return fn, nil
	}
	return nil, fault.ErrUnknownFormat.New(format, action)
}

// retrieve is the built-in read pipeline.
func (a *API) retrieve(ctx context.Context, req *request.Request, resources map[string]*config.Node, impl *Resource) (*assembly.Response, error) {
	var ext Extensions
	if impl != nil {
		ext = impl.Extensions
	}
	if ext.Init != nil {
		if err := ext.Init(ctx, req); err != nil {
			return nil, err
		}
	}

	resolved, err := resolver.Resolve(req, resources)
	if err != nil {
		return nil, err
	}

	a.events.emit(ctx, EventPreExecute, resolved.Tree)
	if ext.PreExecute != nil {
		if err := ext.PreExecute(ctx, resolved.Tree); err != nil {
			return nil, err
		}
	}

	rawResults, err := a.exec.Execute(ctx, resolved.Tree)
	if err != nil {
		return nil, err
	}

	a.events.emit(ctx, EventPostExecute, rawResults)
	if ext.PostExecute != nil {
		if err := ext.PostExecute(ctx, rawResults); err != nil {
			return nil, err
		}
	}

	return assembly.Build(ctx, req, rawResults, resolved.Config, a.itemHooks())
}
