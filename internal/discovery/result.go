// Package discovery computes prefix sets by inspecting repository content:
// local storage for hosted repositories, the origin for proxies.
package discovery

import (
	"artiproxy/internal/prefix"
)

// Outcome of one discovery attempt. Successful outcomes never carry Err.
type Outcome struct {
	Successful bool
	StrategyID string
	Message    string
	Err        error
}

// Result collects the outcomes of every strategy attempted for a repository.
type Result struct {
	RepositoryID string

	outcomes []Outcome
	source   prefix.Source
}

func NewResult(repoID string) *Result {
	return &Result{RepositoryID: repoID}
}

func (r *Result) RecordSuccess(strategyID, message string, src prefix.Source) {
	r.outcomes = append(r.outcomes, Outcome{Successful: true, StrategyID: strategyID, Message: message})
	r.source = src
}

func (r *Result) RecordFailure(strategyID, message string) {
	r.outcomes = append(r.outcomes, Outcome{StrategyID: strategyID, Message: message})
	r.source = nil
}

func (r *Result) RecordError(strategyID string, err error) {
	r.outcomes = append(r.outcomes, Outcome{StrategyID: strategyID, Message: errorMessage(err), Err: err})
	r.source = nil
}

// LastOutcome is the outcome that decides the result. A result nothing was
// recorded into is an unsuccessful "none" outcome.
func (r *Result) LastOutcome() Outcome {
	if len(r.outcomes) == 0 {
		return Outcome{StrategyID: "none", Message: "No strategy applied."}
	}
	return r.outcomes[len(r.outcomes)-1]
}

func (r *Result) Outcomes() []Outcome {
	return append([]Outcome(nil), r.outcomes...)
}

func (r *Result) Successful() bool {
	return r.LastOutcome().Successful
}

// Source is the discovered prefix source, nil unless Successful.
func (r *Result) Source() prefix.Source {
	if !r.Successful() {
		return nil
	}
	return r.source
}
