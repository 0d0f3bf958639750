package compare

import "github.com/dukex/canvasflow/pkg/models"

// ValueFunc resolves one unresolved operand of a condition row.
type ValueFunc func(operand string) any

// EvaluateRow resolves the operands of row and applies its comparator. The right
// operand is not resolved for unary comparators.
func EvaluateRow(row models.ConditionRow, resolve ValueFunc) bool {
	left := resolve(row.Left)
	if row.Comparator.IsUnary() {
		return Evaluate(row.Comparator, left, nil)
	}

	return Evaluate(row.Comparator, left, resolve(row.Right))
}

// EvaluateRows evaluates every row and folds the results. An empty row set is false.
func EvaluateRows(rows []models.ConditionRow, resolve ValueFunc) (bool, []bool) {
	results := make([]bool, len(rows))
	for i, row := range rows {
		results[i] = EvaluateRow(row, resolve)
	}

	return Fold(rows, results), results
}

// Fold combines per-row results strictly left to right: the first row seeds the
// result and its joiner is ignored; each later row is joined with OR when its joiner
// is OR and with AND otherwise.
func Fold(rows []models.ConditionRow, results []bool) bool {
	if len(results) == 0 {
		return false
	}

	acc := results[0]

	for i := 1; i < len(results); i++ {
		joiner := models.JoinerAnd
		if i < len(rows) {
			joiner = rows[i].Joiner
		}

		if joiner == models.JoinerOr {
			acc = acc || results[i]
		} else {
			acc = acc && results[i]
		}
	}

	return acc
}
