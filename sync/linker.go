package sync

import (
	"context"
	"errors"
	"fmt"
)

// LinkOutcome is the result of linking one pair.
type LinkOutcome int

const (
	Linked LinkOutcome = iota
	NotFound
	Ambiguous
	Rejected
	DryRun
)

func (o LinkOutcome) String() string {
	switch o {
	case Linked:
		return "linked"
	case NotFound:
		return "not found"
	case Ambiguous:
		return "ambiguous"
	case Rejected:
		return "rejected"
	case DryRun:
		return "dry run"
	default:
		return fmt.Sprintf("LinkOutcome(%d)", int(o))
	}
}

// Summary counts pair outcomes for a run.
type Summary struct {
	Pairs     int
	Linked    int
	NotFound  int
	Ambiguous int
	Rejected  int
	DryRun    int
}

func (s *Summary) add(o LinkOutcome) {
	s.Pairs++
	switch o {
	case Linked:
		s.Linked++
	case NotFound:
		s.NotFound++
	case Ambiguous:
		s.Ambiguous++
	case Rejected:
		s.Rejected++
	case DryRun:
		s.DryRun++
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("%d pairs: %d linked, %d not found, %d ambiguous, %d rejected, %d dry run",
		s.Pairs, s.Linked, s.NotFound, s.Ambiguous, s.Rejected, s.DryRun)
}

// Linker sets the parent reference of child records to parent records.
// Pairs are processed one at a time, in order.
type Linker struct {
	*SyncContext
	API RallyAPI
}

func NewLinker(sc *SyncContext, api RallyAPI) *Linker {
	return &Linker{SyncContext: sc, API: api}
}

// LinkAll links every pair in order. It stops at the first transport error,
// returning the summary of the pairs attempted so far.
func (l *Linker) LinkAll(pairs []LinkPair, scope ContainerScope, ctx context.Context) (Summary, error) {
	var summary Summary
	for _, pair := range pairs {
		outcome, err := l.Link(pair, scope, ctx)
		if err != nil {
			l.logf("Stopped after %s", summary)
			return summary, fmt.Errorf("line %d (%s,%s): %w", pair.Line, pair.ChildExternalID, pair.ParentExternalID, err)
		}
		summary.add(outcome)
	}
	l.logf("Done: %s", summary)
	return summary, nil
}

// Link resolves both records of the pair and points the child's parent field
// at the parent's _ref. Lookups that find no record, or more than one, abandon
// the pair without error. Any other error is returned.
func (l *Linker) Link(pair LinkPair, scope ContainerScope, ctx context.Context) (LinkOutcome, error) {
	l.logf("Linking %s %s to %s %s", l.Config.Types.Child, pair.ChildExternalID, l.Config.Types.Parent, pair.ParentExternalID)

	child, childErr := l.FindRecordByExternalID(pair.ChildExternalID, l.Config.Types.Child, scope, ctx)
	if childErr != nil && !isLookupMiss(childErr) {
		return 0, childErr
	}
	parent, parentErr := l.FindRecordByExternalID(pair.ParentExternalID, l.Config.Types.Parent, scope, ctx)
	if parentErr != nil && !isLookupMiss(parentErr) {
		return 0, parentErr
	}
	if err := errors.Join(childErr, parentErr); err != nil {
		l.logf("Could not link %s with %s, skipping", pair.ChildExternalID, pair.ParentExternalID)
		if errors.Is(err, ErrRecordNotFound) {
			return NotFound, nil
		}
		return Ambiguous, nil
	}

	envelope := l.Config.Types.ChildEnvelope
	if envelope == "" {
		envelope = UpdateEnvelope(l.Config.Types.Child)
	}
	body, err := BuildUpdateBody(envelope, l.Config.Fields.Parent, parent.Ref())
	if err != nil {
		return 0, err
	}
	if l.DryRun {
		l.logf("Dry run: would update %s with %s", child.RelativeRef(), body)
		return DryRun, nil
	}

	response, err := l.API.Update(UpdateRequest{Ref: child.RelativeRef(), JSON: body}, ctx)
	if err != nil {
		return 0, err
	}
	outcome := Linked
	if !response.Updated() {
		outcome = Rejected
		l.logf("Could not link %s with %s: ", pair.ChildExternalID, pair.ParentExternalID)
		for _, e := range response.Errors {
			l.logf("error: %s", e)
		}
	} else {
		l.logf("Linked %s to %s", child.Describe(), parent.Describe())
	}
	for _, w := range response.Warnings {
		l.logf("warning: %s", w)
	}
	return outcome, nil
}

func isLookupMiss(err error) bool {
	return errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrAmbiguousMatch)
}
