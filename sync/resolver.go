package sync

import (
	"context"
	"errors"
	"fmt"
)

const (
	ContainerTypeWorkspace = "workspace"
	ContainerTypeProject   = "project"
)

// ContainerScope holds the ObjectIDs every record lookup is scoped to.
type ContainerScope struct {
	WorkspaceID string
	ProjectID   string
}

// ResolveScope resolves the named workspace and project.
// Either failing is fatal, no pair may be processed with a partial scope.
func (l *Linker) ResolveScope(workspaceName, projectName string, ctx context.Context) (ContainerScope, error) {
	var result ContainerScope
	workspaceID, err := l.ResolveContainerID(ContainerTypeWorkspace, workspaceName, "", ctx)
	if err != nil {
		return result, err
	}
	projectID, err := l.ResolveContainerID(ContainerTypeProject, projectName, workspaceID, ctx)
	if err != nil {
		return result, err
	}
	result.WorkspaceID = workspaceID
	result.ProjectID = projectID
	l.logf("Resolved workspace %q to %s and project %q to %s", workspaceName, workspaceID, projectName, projectID)
	return result, nil
}

// ResolveContainerID returns the ObjectID of the container of the given type
// whose Name equals name exactly. A non-empty workspaceID limits the lookup
// to that workspace, otherwise Rally uses the user's default workspace.
func (l *Linker) ResolveContainerID(containerType, name, workspaceID string, ctx context.Context) (string, error) {
	result, err := l.API.Query(QueryRequest{
		Type:      containerType,
		Fetch:     []string{"ObjectID", "Name"},
		Filter:    QueryFilter{Field: "Name", Operator: "=", Value: name},
		Workspace: workspaceID,
		PageSize:  l.Config.API.PageSize,
	}, ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s %q: %w", containerType, name, err)
	}
	switch {
	case result.Matches() == 0 || len(result.Results) == 0:
		return "", fmt.Errorf("%s %q: %w", containerType, name, ErrContainerNotFound)
	case result.Matches() > 1:
		return "", fmt.Errorf("%s %q matched %d containers: %w", containerType, name, result.Matches(), ErrAmbiguousMatch)
	}
	id, exists := result.Results[0].ObjectID()
	if !exists || id == "" {
		return "", &TransportError{
			Op:  fmt.Sprintf("resolve %s %q", containerType, name),
			Err: errors.New("result is missing ObjectID"),
		}
	}
	return id, nil
}

// FindRecordByExternalID returns the single record of recordType, within
// scope, whose external id field equals externalID.
// No match returns ErrRecordNotFound and more than one returns
// ErrAmbiguousMatch; both are logged as warnings. Any other error is a
// *TransportError.
func (l *Linker) FindRecordByExternalID(externalID, recordType string, scope ContainerScope, ctx context.Context) (Record, error) {
	field := l.Config.Fields.ExternalID
	result, err := l.API.Query(QueryRequest{
		Type:      recordType,
		Fetch:     l.Config.FetchFields(),
		Filter:    QueryFilter{Field: field, Operator: "=", Value: externalID},
		Workspace: scope.WorkspaceID,
		Project:   scope.ProjectID,
		ScopeUp:   l.Config.Scope.Up,
		ScopeDown: l.Config.Scope.Down,
		PageSize:  l.Config.API.PageSize,
	}, ctx)
	if err != nil {
		return Record{}, err
	}
	switch {
	case result.Matches() == 0 || len(result.Results) == 0:
		l.logf("Warning: could not find %s with %s %s", recordType, field, externalID)
		return Record{}, fmt.Errorf("%s %s=%s: %w", recordType, field, externalID, ErrRecordNotFound)
	case result.Matches() > 1:
		l.logf("Warning: found %d %s records with %s %s", result.Matches(), recordType, field, externalID)
		return Record{}, fmt.Errorf("%s %s=%s: %w", recordType, field, externalID, ErrAmbiguousMatch)
	}
	record := result.Results[0]
	if record.Ref() == "" {
		return Record{}, &TransportError{
			Op:  fmt.Sprintf("find %s %s=%s", recordType, field, externalID),
			Err: errors.New("result is missing _ref"),
		}
	}
	l.logf("Found %s for %s %s", record.Describe(), field, externalID)
	return record, nil
}
