package domain

// DecisionApplyStatus — как Event Store принял решение ревью
type DecisionApplyStatus string

const (
	// DecisionApplied — первое решение, штатный переход REVIEW_PENDING -> REVIEW_DECIDED
	DecisionApplied DecisionApplyStatus = "applied"
	// DecisionDuplicate — повторная доставка того же решения, мутаций нет
	DecisionDuplicate DecisionApplyStatus = "duplicate"
	// DecisionSuperseded — конфликт решений: last-write-wins,
	// вытесненное решение осталось в аудит-следе
	DecisionSuperseded DecisionApplyStatus = "superseded"
	// DecisionLateConflict — конфликтующее решение после ACTION_TAKEN:
	// действие уже исполнено, решение не переписываем, факт фиксируем в аудите
	DecisionLateConflict DecisionApplyStatus = "late_conflict"
)

// DecisionOutcome — результат применения решения к событию
type DecisionOutcome struct {
	Status     DecisionApplyStatus
	Event      *ModerationEvent
	Superseded *ReviewDecision // прежнее решение при Status == DecisionSuperseded
}
