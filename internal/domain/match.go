package domain

// MatchCandidate — один кандидат из ответа движка (ближайший сосед из банка)
type MatchCandidate struct {
	BankID      string            `json:"bank_id"`
	BankName    string            `json:"bank_name,omitempty"`
	MatchedHash string            `json:"matched_hash"`
	Distance    float64           `json:"distance"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MatchSet — типизированный результат похода в движок.
// Unreliable выставляется при деградации: движок не ответил,
// пустой набор кандидатов нельзя трактовать как "чисто".
type MatchSet struct {
	Candidates []MatchCandidate `json:"candidates"`
	Unreliable bool             `json:"unreliable"`
}

// Best выбирает лучшего кандидата: минимальная дистанция
// (меньше = более похоже), при равенстве — лексикографически
// первый bank_id для детерминизма.
func (ms *MatchSet) Best() *MatchCandidate {
	if ms == nil || len(ms.Candidates) == 0 {
		return nil
	}

	best := ms.Candidates[0]
	for _, c := range ms.Candidates[1:] {
		if c.Distance < best.Distance {
			best = c
			continue
		}
		if c.Distance == best.Distance && c.BankID < best.BankID {
			best = c
		}
	}
	return &best
}

// Summary сворачивает лучшего кандидата в форму для ModerationEvent
func (ms *MatchSet) Summary() *MatchSummary {
	best := ms.Best()
	if best == nil {
		return nil
	}
	return &MatchSummary{
		BankID:      best.BankID,
		MatchedHash: best.MatchedHash,
		Distance:    best.Distance,
	}
}
