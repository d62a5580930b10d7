/*
evaluator.go - Progress formulas

PROGRESS RULES:
  Transaction count:  min(100, floor(100 * actual / required))
  Cumulative spend:   min(100, floor(100 * spentUSD / requiredUSD))
  Categories:         floor(100 * present / required), each required
                      category counted at most once however many
                      transactions hit it
  Compound:           minimum of the sub-progress values

  A non-positive required count or spend yields progress 0 rather than
  an error: no achievement should ship with such a threshold, but the
  evaluator must not divide by zero if one does.
*/
package achievement

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/business"
	"github.com/warp/loyalty-engine/ledger"
)

// Evaluation is the progress of one customer against one achievement.
type Evaluation struct {
	Definition Definition
	Progress   int

	// Delta is Progress minus the last cached value; a positive delta
	// that lands on 100 marks a newly completed achievement.
	Delta int
}

// Completed reports whether this evaluation crossed the 100% threshold.
func (e Evaluation) Completed() bool { return e.Progress >= 100 }

// NewlyCompleted reports whether it crossed 100% since the last cache.
func (e Evaluation) NewlyCompleted() bool { return e.Progress >= 100 && e.Delta > 0 }

// Evaluator computes progress from the ledger alone.
type Evaluator struct {
	Ledger      ledger.Store
	Definitions DefinitionStore
	Businesses  business.Directory

	// Progress is the optional cache; nil disables delta reporting.
	Progress ProgressStore
}

func NewEvaluator(store ledger.Store, defs DefinitionStore, dir business.Directory, cache ProgressStore) *Evaluator {
	return &Evaluator{Ledger: store, Definitions: defs, Businesses: dir, Progress: cache}
}

// EvaluateOne computes one customer's progress against one definition.
func (e *Evaluator) EvaluateOne(ctx context.Context, customer ledger.CustomerID, def Definition) (int, error) {
	txs, err := e.Ledger.ByCustomer(ctx, customer)
	if err != nil {
		return 0, err
	}
	return e.progressOf(ctx, txs, def.Condition)
}

// EvaluateAll computes progress for every active achievement and, when
// a progress cache is configured, the delta versus the last known value.
// The cache is updated as a side effect.
func (e *Evaluator) EvaluateAll(ctx context.Context, customer ledger.CustomerID) ([]Evaluation, error) {
	defs, err := e.Definitions.ListActiveDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := e.Ledger.ByCustomer(ctx, customer)
	if err != nil {
		return nil, err
	}

	evals := make([]Evaluation, 0, len(defs))
	for _, def := range defs {
		progress, err := e.progressOf(ctx, txs, def.Condition)
		if err != nil {
			return nil, err
		}

		ev := Evaluation{Definition: def, Progress: progress}
		if e.Progress != nil {
			last, err := e.Progress.GetProgress(ctx, customer, def.ID)
			if err != nil {
				return nil, err
			}
			ev.Delta = progress - last
			if ev.Delta != 0 {
				if err := e.Progress.PutProgress(ctx, customer, def.ID, progress); err != nil {
					return nil, err
				}
			}
		}
		evals = append(evals, ev)
	}
	return evals, nil
}

// progressOf applies the formulas to an already loaded transaction list.
func (e *Evaluator) progressOf(ctx context.Context, txs []ledger.Transaction, cond Condition) (int, error) {
	if cond.IsZero() {
		return 0, nil
	}

	earnCount := 0
	spent := decimal.Zero
	byBusiness := make(map[ledger.BusinessID]int)
	for _, tx := range txs {
		if tx.Kind != ledger.KindEarn {
			continue
		}
		earnCount++
		spent = spent.Add(tx.USDAmount)
		byBusiness[tx.BusinessID]++
	}

	progress := 100

	if cond.MinTransactions != 0 {
		progress = min(progress, ratioProgress(int64(earnCount), int64(cond.MinTransactions)))
	}

	if !cond.MinSpentUSD.IsZero() {
		progress = min(progress, spendProgress(spent, cond.MinSpentUSD))
	}

	if len(cond.Categories) != 0 {
		present := make(map[string]bool)
		for id := range byBusiness {
			b, err := e.Businesses.GetBusiness(ctx, id)
			if err != nil {
				// A vanished business contributes nothing; it cannot
				// fail the whole evaluation.
				continue
			}
			present[b.Category] = true
		}
		matched := 0
		for _, cat := range cond.Categories {
			if present[cat] {
				matched++
			}
		}
		progress = min(progress, 100*matched/len(cond.Categories))
	}

	return progress, nil
}

// ratioProgress is min(100, floor(100*actual/required)); required <= 0
// guards the division and yields 0.
func ratioProgress(actual, required int64) int {
	if required <= 0 {
		return 0
	}
	p := 100 * actual / required
	if p > 100 {
		return 100
	}
	return int(p)
}

func spendProgress(actual, required decimal.Decimal) int {
	if required.Sign() <= 0 {
		return 0
	}
	p := actual.Mul(decimal.NewFromInt(100)).Div(required).IntPart()
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return int(p)
}
