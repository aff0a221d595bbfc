package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/x402_agent/internal/basket"
	"github.com/dgnsrekt/x402_agent/internal/relay"
)

type requestIDInput struct {
	RequestID string `path:"request_id"`
}

func registerRequestHandlers(api huma.API, deps Deps) {
	type listRequestsOutput struct {
		Body struct {
			Requests []RequestView `json:"requests"`
			Total    int           `json:"total"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-requests", Method: http.MethodGet, Path: "/api/v1/requests", Summary: "List captured 402 requests, newest first", Tags: []string{"Requests"}},
		func(ctx context.Context, input *struct{}) (*listRequestsOutput, error) {
			records := deps.Store.All()
			out := &listRequestsOutput{}
			out.Body.Requests = make([]RequestView, 0, len(records))
			for i := len(records) - 1; i >= 0; i-- {
				out.Body.Requests = append(out.Body.Requests, requestView(records[i]))
			}
			out.Body.Total = len(records)
			return out, nil
		})

	type getRequestOutput struct {
		Body RequestView
	}
	huma.Register(api, huma.Operation{OperationID: "get-request", Method: http.MethodGet, Path: "/api/v1/requests/{request_id}", Summary: "Get one captured request", Tags: []string{"Requests"}},
		func(ctx context.Context, input *requestIDInput) (*getRequestOutput, error) {
			rec, ok := deps.Store.Get(input.RequestID)
			if !ok {
				return nil, huma.Error404NotFound("no request with id " + input.RequestID)
			}
			out := &getRequestOutput{}
			out.Body = requestView(rec)
			return out, nil
		})

	type deleteRequestOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "delete-request", Method: http.MethodDelete, Path: "/api/v1/requests/{request_id}", Summary: "Delete a captured request", Tags: []string{"Requests"}},
		func(ctx context.Context, input *requestIDInput) (*deleteRequestOutput, error) {
			rec, ok := deps.Store.Get(input.RequestID)
			if !ok {
				return nil, huma.Error404NotFound("no request with id " + input.RequestID)
			}
			if err := deps.Store.Delete(input.RequestID); err != nil {
				return nil, huma.Error500InternalServerError(err.Error())
			}
			if deps.Broker != nil {
				deps.Broker.Publish(relay.Event{Type: relay.EventDeleted, Record: rec})
			}
			out := &deleteRequestOutput{}
			out.Body.Status = "deleted"
			return out, nil
		})

	type getBasketOutput struct {
		Body BasketView
	}
	huma.Register(api, huma.Operation{OperationID: "get-basket", Method: http.MethodGet, Path: "/api/v1/requests/{request_id}/basket", Summary: "Resolve the itemized basket for a request", Tags: []string{"Requests"}},
		func(ctx context.Context, input *requestIDInput) (*getBasketOutput, error) {
			rec, ok := deps.Store.Get(input.RequestID)
			if !ok {
				return nil, huma.Error404NotFound("no request with id " + input.RequestID)
			}
			out := &getBasketOutput{}
			out.Body = basketView(basket.Resolve(rec))
			return out, nil
		})
}

func registerSettingsHandlers(api huma.API, deps Deps) {
	type displayModeOutput struct {
		Body struct {
			DisplayMode bool `json:"display_mode"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-display-mode", Method: http.MethodGet, Path: "/api/v1/settings/display-mode", Summary: "Get display mode", Tags: []string{"Settings"}},
		func(ctx context.Context, input *struct{}) (*displayModeOutput, error) {
			out := &displayModeOutput{}
			out.Body.DisplayMode = deps.Store.DisplayMode()
			return out, nil
		})

	type setDisplayModeInput struct {
		Body struct {
			DisplayMode bool `json:"display_mode"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "set-display-mode", Method: http.MethodPut, Path: "/api/v1/settings/display-mode", Summary: "Set display mode", Tags: []string{"Settings"}},
		func(ctx context.Context, input *setDisplayModeInput) (*displayModeOutput, error) {
			if err := deps.Store.SetDisplayMode(input.Body.DisplayMode); err != nil {
				return nil, huma.Error500InternalServerError(err.Error())
			}
			out := &displayModeOutput{}
			out.Body.DisplayMode = input.Body.DisplayMode
			return out, nil
		})
}

func registerStatsHandlers(api huma.API, deps Deps) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type statsOutput struct {
		Body struct {
			TotalRequests int            `json:"total_requests"`
			NewRequests   int64          `json:"new_requests"`
			BySource      map[string]int `json:"by_source"`
			ConnectedTabs int            `json:"connected_tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-stats", Method: http.MethodGet, Path: "/api/v1/stats", Summary: "Capture statistics", Tags: []string{"Stats"}},
		func(ctx context.Context, input *struct{}) (*statsOutput, error) {
			out := &statsOutput{}
			records := deps.Store.All()
			out.Body.TotalRequests = len(records)
			out.Body.NewRequests = deps.Reconciler.NewRequestCount()
			out.Body.BySource = make(map[string]int)
			for _, rec := range records {
				out.Body.BySource[rec.Source]++
			}
			if deps.Tabs != nil {
				out.Body.ConnectedTabs = deps.Tabs.TabCount()
			}
			return out, nil
		})

	type clearStatsOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "clear-new-requests", Method: http.MethodPost, Path: "/api/v1/stats/clear", Summary: "Reset the new-request counter", Tags: []string{"Stats"}},
		func(ctx context.Context, input *struct{}) (*clearStatsOutput, error) {
			deps.Reconciler.ResetNewRequestCount()
			out := &clearStatsOutput{}
			out.Body.Status = "cleared"
			return out, nil
		})
}
