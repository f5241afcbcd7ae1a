package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const testRefBase = "https://rally1.rallydev.com/slm/webservice/v2.0/"

type fakeRallyAPI struct {
	// type -> filter value -> raw JSON records
	records map[string]map[string][]string
	// external id whose lookup fails with a transport error
	failOn map[string]error
	// overrides the default accepting update
	updateResponse func(UpdateRequest) (OperationResult, error)

	queries []QueryRequest
	updates []UpdateRequest
	// relative ref -> current parent field value
	parents map[string]string
}

func newFakeRallyAPI() *fakeRallyAPI {
	f := &fakeRallyAPI{
		records: map[string]map[string][]string{},
		failOn:  map[string]error{},
		parents: map[string]string{},
	}
	f.add(ContainerTypeWorkspace, "My Workspace", `{"ObjectID": 100, "Name": "My Workspace"}`)
	f.add(ContainerTypeProject, "My Project", `{"ObjectID": 200, "Name": "My Project"}`)
	return f
}

func (f *fakeRallyAPI) add(recordType, value, json string) {
	if f.records[recordType] == nil {
		f.records[recordType] = map[string][]string{}
	}
	f.records[recordType][value] = append(f.records[recordType][value], json)
}

func (f *fakeRallyAPI) addStory(jiraID string, oid int) {
	f.add("hierarchicalrequirement", jiraID, fmt.Sprintf(
		`{"ObjectID": %d, "FormattedID": "US%d", "JiraID": %q, "_ref": "%shierarchicalrequirement/%d"}`,
		oid, oid, jiraID, testRefBase, oid))
}

func (f *fakeRallyAPI) addFeature(jiraID string, oid int) {
	f.add("portfolioitem/feature", jiraID, fmt.Sprintf(
		`{"ObjectID": %d, "FormattedID": "F%d", "JiraID": %q, "_ref": "%sportfolioitem/feature/%d"}`,
		oid, oid, jiraID, testRefBase, oid))
}

func (f *fakeRallyAPI) Query(req QueryRequest, ctx context.Context) (QueryResult, error) {
	f.queries = append(f.queries, req)
	if err, exists := f.failOn[req.Filter.Value]; exists {
		return QueryResult{}, err
	}
	var result QueryResult
	for _, json := range f.records[req.Type][req.Filter.Value] {
		result.Results = append(result.Results, NewRecord(json))
	}
	result.TotalResultCount = len(result.Results)
	return result, nil
}

func (f *fakeRallyAPI) Update(req UpdateRequest, ctx context.Context) (OperationResult, error) {
	f.updates = append(f.updates, req)
	if f.updateResponse != nil {
		return f.updateResponse(req)
	}
	f.parents[req.Ref] = gjson.Get(req.JSON, "Hierarchicalrequirement.PortfolioItem").String()
	obj := NewRecord(fmt.Sprintf(`{"_ref": "%s%s"}`, testRefBase, req.Ref))
	return OperationResult{Object: &obj}, nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	config, err := LoadConfig(ConfigWithEnvironment(MapEnvironment{}), ConfigWithAPIKey("test-key"))
	require.NoError(t, err)
	return config
}

func newTestLinker(t *testing.T, api RallyAPI) (*Linker, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	sc := &SyncContext{
		Config: testConfig(t),
		Logger: log.New(&logs, "", 0),
		RunID:  "test-run",
	}
	return NewLinker(sc, api), &logs
}

var testScope = ContainerScope{WorkspaceID: "100", ProjectID: "200"}

func TestResolveScope(t *testing.T) {
	api := newFakeRallyAPI()
	linker, _ := newTestLinker(t, api)

	scope, err := linker.ResolveScope("My Workspace", "My Project", context.Background())
	require.NoError(t, err)
	assert.Equal(t, testScope, scope)

	require.Len(t, api.queries, 2)
	assert.Equal(t, ContainerTypeWorkspace, api.queries[0].Type)
	assert.Equal(t, QueryFilter{Field: "Name", Operator: "=", Value: "My Workspace"}, api.queries[0].Filter)
	assert.Empty(t, api.queries[0].Workspace)
	assert.Equal(t, ContainerTypeProject, api.queries[1].Type)
	assert.Equal(t, "100", api.queries[1].Workspace, "projects are looked up in the resolved workspace")
	assert.Empty(t, api.queries[1].Project)
}

func TestResolveScope_ContainerNotFound(t *testing.T) {
	api := newFakeRallyAPI()
	linker, _ := newTestLinker(t, api)

	_, err := linker.ResolveScope("My Workspace", "Missing Project", context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContainerNotFound)
	assert.False(t, IsTransportError(err))
}

func TestResolveScope_AmbiguousContainer(t *testing.T) {
	api := newFakeRallyAPI()
	api.add(ContainerTypeWorkspace, "My Workspace", `{"ObjectID": 101, "Name": "My Workspace"}`)
	linker, _ := newTestLinker(t, api)

	_, err := linker.ResolveScope("My Workspace", "My Project", context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAmbiguousMatch)
	assert.Len(t, api.queries, 1, "project is not looked up once the workspace failed")
}

func TestResolveScope_TransportError(t *testing.T) {
	api := newFakeRallyAPI()
	api.failOn["My Workspace"] = &TransportError{Op: "query workspace", Err: errors.New("connection refused")}
	linker, _ := newTestLinker(t, api)

	_, err := linker.ResolveScope("My Workspace", "My Project", context.Background())
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
}

func TestFindRecordByExternalID_ScopesQuery(t *testing.T) {
	api := newFakeRallyAPI()
	api.addStory("JIRA-1", 11)
	linker, _ := newTestLinker(t, api)

	record, err := linker.FindRecordByExternalID("JIRA-1", "hierarchicalrequirement", testScope, context.Background())
	require.NoError(t, err)
	assert.Equal(t, testRefBase+"hierarchicalrequirement/11", record.Ref())
	assert.Equal(t, "JIRA-1", record.ExternalID("JiraID"))

	require.Len(t, api.queries, 1)
	q := api.queries[0]
	assert.Equal(t, "100", q.Workspace)
	assert.Equal(t, "200", q.Project)
	assert.False(t, q.ScopeUp)
	assert.False(t, q.ScopeDown)
	assert.Equal(t, QueryFilter{Field: "JiraID", Operator: "=", Value: "JIRA-1"}, q.Filter)
	assert.Equal(t, []string{"ObjectID", "FormattedID", "_ref", "JiraID"}, q.Fetch)
}

func TestFindRecordByExternalID_NotFound(t *testing.T) {
	api := newFakeRallyAPI()
	linker, logs := newTestLinker(t, api)

	_, err := linker.FindRecordByExternalID("JIRA-404", "hierarchicalrequirement", testScope, context.Background())
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.False(t, IsTransportError(err))
	assert.Contains(t, logs.String(), "Warning: could not find hierarchicalrequirement with JiraID JIRA-404")
}

func TestLink_ScenarioA_TwoPairs(t *testing.T) {
	api := newFakeRallyAPI()
	api.addStory("US1", 11)
	api.addStory("US2", 12)
	api.addFeature("F1", 21)
	api.addFeature("F2", 22)
	linker, _ := newTestLinker(t, api)

	pairs, err := ReadPairs(strings.NewReader("US1,F1\nUS2,F2"), nil)
	require.NoError(t, err)

	summary, err := linker.LinkAll(pairs, testScope, context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Pairs: 2, Linked: 2}, summary)

	require.Len(t, api.updates, 2)
	assert.Equal(t, "hierarchicalrequirement/11", api.updates[0].Ref)
	assert.Equal(t, "hierarchicalrequirement/12", api.updates[1].Ref)
	assert.Equal(t, testRefBase+"portfolioitem/feature/21", api.parents["hierarchicalrequirement/11"])
	assert.Equal(t, testRefBase+"portfolioitem/feature/22", api.parents["hierarchicalrequirement/12"])
}

func TestLink_ScenarioB_IncompleteLineSkipped(t *testing.T) {
	api := newFakeRallyAPI()
	api.addStory("US1", 11)
	api.addFeature("F1", 21)
	linker, logs := newTestLinker(t, api)

	pairs, err := ReadPairs(strings.NewReader("US1,F1\nBADLINE"), linker.Logger)
	require.NoError(t, err)
	require.Len(t, pairs, 1)

	summary, err := linker.LinkAll(pairs, testScope, context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Linked)
	assert.Len(t, api.updates, 1)
	assert.Equal(t, 1, strings.Count(logs.String(), `Warning: found incomplete pair "BADLINE"`))
}

func TestLink_ScenarioC_ParentNotFound(t *testing.T) {
	api := newFakeRallyAPI()
	api.addStory("US1", 11)
	linker, logs := newTestLinker(t, api)

	summary, err := linker.LinkAll([]LinkPair{{ChildExternalID: "US1", ParentExternalID: "F1", Line: 1}}, testScope, context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Pairs: 1, NotFound: 1}, summary)
	assert.Empty(t, api.updates)
	assert.Equal(t, 1, strings.Count(logs.String(), "Warning: could not find"))
}

func TestLink_ChildNotFoundStillLooksUpParent(t *testing.T) {
	api := newFakeRallyAPI()
	api.addFeature("F1", 21)
	linker, _ := newTestLinker(t, api)

	outcome, err := linker.Link(LinkPair{ChildExternalID: "US1", ParentExternalID: "F1"}, testScope, context.Background())
	require.NoError(t, err)
	assert.Equal(t, NotFound, outcome)
	assert.Len(t, api.queries, 2)
	assert.Empty(t, api.updates)
}

func TestLink_AmbiguousRecordAbandonsPair(t *testing.T) {
	api := newFakeRallyAPI()
	api.addStory("US1", 11)
	api.addStory("US1", 13)
	api.addFeature("F1", 21)
	linker, logs := newTestLinker(t, api)

	outcome, err := linker.Link(LinkPair{ChildExternalID: "US1", ParentExternalID: "F1"}, testScope, context.Background())
	require.NoError(t, err)
	assert.Equal(t, Ambiguous, outcome)
	assert.Empty(t, api.updates)
	assert.Contains(t, logs.String(), "Warning: found 2 hierarchicalrequirement records with JiraID US1")
}

func TestLink_UpdatePayloadHasOnlyParentRef(t *testing.T) {
	api := newFakeRallyAPI()
	api.addStory("US1", 11)
	api.addFeature("F1", 21)
	linker, _ := newTestLinker(t, api)

	outcome, err := linker.Link(LinkPair{ChildExternalID: "US1", ParentExternalID: "F1"}, testScope, context.Background())
	require.NoError(t, err)
	assert.Equal(t, Linked, outcome)

	require.Len(t, api.updates, 1)
	fields := gjson.Get(api.updates[0].JSON, "Hierarchicalrequirement").Map()
	require.Len(t, fields, 1)
	assert.Equal(t, testRefBase+"portfolioitem/feature/21", fields["PortfolioItem"].String())
}

func TestLink_Idempotent(t *testing.T) {
	api := newFakeRallyAPI()
	api.addStory("US1", 11)
	api.addFeature("F1", 21)
	linker, _ := newTestLinker(t, api)
	pair := LinkPair{ChildExternalID: "US1", ParentExternalID: "F1"}

	_, err := linker.Link(pair, testScope, context.Background())
	require.NoError(t, err)
	first := api.parents["hierarchicalrequirement/11"]

	_, err = linker.Link(pair, testScope, context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, api.parents["hierarchicalrequirement/11"])
	assert.Equal(t, api.updates[0], api.updates[1])
}

func TestLink_RejectedUpdateContinues(t *testing.T) {
	api := newFakeRallyAPI()
	api.addStory("US1", 11)
	api.addStory("US2", 12)
	api.addFeature("F1", 21)
	api.updateResponse = func(req UpdateRequest) (OperationResult, error) {
		if req.Ref == "hierarchicalrequirement/11" {
			return OperationResult{
				Errors:   []string{"Not authorized to perform action"},
				Warnings: []string{"API status is Deprecated"},
			}, nil
		}
		obj := NewRecord(`{"_ref": "x"}`)
		return OperationResult{Object: &obj}, nil
	}
	linker, logs := newTestLinker(t, api)

	summary, err := linker.LinkAll([]LinkPair{
		{ChildExternalID: "US1", ParentExternalID: "F1", Line: 1},
		{ChildExternalID: "US2", ParentExternalID: "F1", Line: 2},
	}, testScope, context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Pairs: 2, Linked: 1, Rejected: 1}, summary)
	assert.Contains(t, logs.String(), "Could not link US1 with F1")
	assert.Contains(t, logs.String(), "error: Not authorized to perform action")
	assert.Contains(t, logs.String(), "warning: API status is Deprecated")
}

func TestLinkAll_TransportErrorAbortsRun(t *testing.T) {
	api := newFakeRallyAPI()
	api.addStory("US1", 11)
	api.addStory("US3", 13)
	api.addFeature("F1", 21)
	api.failOn["US2"] = &TransportError{Op: "query hierarchicalrequirement", Err: errors.New("connection reset")}
	linker, _ := newTestLinker(t, api)

	summary, err := linker.LinkAll([]LinkPair{
		{ChildExternalID: "US1", ParentExternalID: "F1", Line: 1},
		{ChildExternalID: "US2", ParentExternalID: "F1", Line: 2},
		{ChildExternalID: "US3", ParentExternalID: "F1", Line: 3},
	}, testScope, context.Background())
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
	assert.Contains(t, err.Error(), "line 2")
	assert.Equal(t, Summary{Pairs: 1, Linked: 1}, summary)
	assert.Len(t, api.updates, 1, "pairs after the failure are not processed")
}

func TestLink_DryRunSendsNoUpdate(t *testing.T) {
	api := newFakeRallyAPI()
	api.addStory("US1", 11)
	api.addFeature("F1", 21)
	linker, logs := newTestLinker(t, api)
	linker.DryRun = true

	outcome, err := linker.Link(LinkPair{ChildExternalID: "US1", ParentExternalID: "F1"}, testScope, context.Background())
	require.NoError(t, err)
	assert.Equal(t, DryRun, outcome)
	assert.Empty(t, api.updates)
	assert.Contains(t, logs.String(), "Dry run: would update hierarchicalrequirement/11")
}

func TestLinkOutcome_String(t *testing.T) {
	assert.Equal(t, "linked", Linked.String())
	assert.Equal(t, "not found", NotFound.String())
	assert.Equal(t, "LinkOutcome(42)", LinkOutcome(42).String())
}
