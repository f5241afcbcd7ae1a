package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"
)

// RallyAPI is the subset of the Rally Web Services API used by the Linker.
type RallyAPI interface {
	Query(req QueryRequest, ctx context.Context) (QueryResult, error)
	Update(req UpdateRequest, ctx context.Context) (OperationResult, error)
}

// RallyFetcherAndUpdater handles all Rally API operations.
// It embeds *SyncContext for shared sync configuration.
type RallyFetcherAndUpdater struct {
	*SyncContext
}

func NewRallyFetcherAndUpdater(sc *SyncContext) *RallyFetcherAndUpdater {
	return &RallyFetcherAndUpdater{SyncContext: sc}
}

// RallyAPIBuilder returns a new requests.Builder configured for the Rally API.
func (r *RallyFetcherAndUpdater) RallyAPIBuilder() *requests.Builder {
	api := r.Config.API
	result := requests.
		URL(api.Endpoint).
		Client(&http.Client{Timeout: api.RequestTimeout()}).
		Header("ZSESSIONID", api.Key).
		Header("X-RallyIntegrationName", api.Integration.Name).
		Header("X-RallyIntegrationVendor", api.Integration.Vendor).
		Header("X-RallyIntegrationVersion", api.Integration.Version)
	if r.RecordRequests() {
		result = result.Transport(requests.Record(nil, filepath.Join(r.RecordPath, r.RunID)))
	}
	return result
}

func (r *RallyFetcherAndUpdater) webservicePath(rel string) string {
	return fmt.Sprintf("%s/%s/%s", rallyWebservicePath, r.Config.API.Version, strings.TrimPrefix(rel, "/"))
}

// Query runs a WSAPI collection query.
// Errors reported by Rally inside the QueryResult are returned as a *TransportError.
func (r *RallyFetcherAndUpdater) Query(req QueryRequest, ctx context.Context) (QueryResult, error) {
	op := fmt.Sprintf("query %s %s", req.Type, req.Filter)
	r.logf("Query: %s", op)

	rallyError := RallyError{}
	var json string
	builder := r.RallyAPIBuilder().
		Path(r.webservicePath(req.Type)).
		Param("fetch", strings.Join(req.Fetch, ",")).
		Param("query", req.Filter.String())
	if req.PageSize > 0 {
		builder = builder.Param("pagesize", strconv.Itoa(req.PageSize))
	}
	if req.Workspace != "" {
		builder = builder.Param("workspace", "/workspace/"+req.Workspace)
	}
	if req.Project != "" {
		builder = builder.
			Param("project", "/project/"+req.Project).
			Param("projectScopeUp", strconv.FormatBool(req.ScopeUp)).
			Param("projectScopeDown", strconv.FormatBool(req.ScopeDown))
	}
	err := builder.
		ToString(&json).
		ErrorJSON(&rallyError).
		Fetch(ctx)
	if err != nil {
		r.logf("Rally Error: %+v", rallyError)
		return QueryResult{}, &TransportError{Op: op, Err: err}
	}
	if !gjson.Valid(json) || !gjson.Get(json, "QueryResult").Exists() {
		r.logf("Invalid Rally Response:\n%s", json)
		return QueryResult{}, &TransportError{Op: op, Err: errors.New("invalid json response")}
	}

	result := parseQueryResult(json)
	for _, w := range result.Warnings {
		r.logf("Warning: %s", w)
	}
	if len(result.Errors) > 0 {
		return result, &TransportError{Op: op, Errors: result.Errors}
	}
	r.logf("results: %d", result.Matches())
	return result, nil
}

// Update posts a partial update to the record addressed by req.Ref.
// Errors reported by Rally inside the OperationResult are not a failure of
// this call; callers inspect OperationResult.Updated.
func (r *RallyFetcherAndUpdater) Update(req UpdateRequest, ctx context.Context) (OperationResult, error) {
	op := fmt.Sprintf("update %s", req.Ref)
	r.logf("Update: %s %s", req.Ref, req.JSON)

	rallyError := RallyError{}
	var json string
	err := r.RallyAPIBuilder().
		Post().
		Path(r.webservicePath(req.Ref)).
		BodyBytes([]byte(req.JSON)).
		ContentType("application/json").
		ToString(&json).
		ErrorJSON(&rallyError).
		Fetch(ctx)
	if err != nil {
		r.logf("Rally Error: %+v", rallyError)
		return OperationResult{}, &TransportError{Op: op, Err: err}
	}
	if !gjson.Valid(json) || !gjson.Get(json, "OperationResult").Exists() {
		r.logf("Invalid Rally Response:\n%s", json)
		return OperationResult{}, &TransportError{Op: op, Err: errors.New("invalid json response")}
	}
	return parseOperationResult(json), nil
}
