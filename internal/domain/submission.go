package domain

// MediaObject — то, что прилетело на модерацию: либо сырые байты,
// либо ссылка, которую мост разыменует сам
type MediaObject struct {
	Bytes       []byte
	URL         string
	ContentType string
}

// Submission — один запрос на проверку контента
type Submission struct {
	ContentID   string
	SubmitterID string
	Media       MediaObject
	Metadata    map[string]string
}

// Escalation — задача для очереди ревью: минимум контекста для корреляции
// плюс компактное представление изображения для модератора
type Escalation struct {
	EventID     string
	ContentID   string
	SubmitterID string
	Match       *MatchSummary
	Thumbnail   []byte // JPEG, уменьшенная копия
	Reason      string // почему эскалировали: match / watchlist
}

// ReviewStatus — ревью-срез события в ответе Submission API
type ReviewStatus struct {
	Escalated bool    `json:"escalated"`
	TaskID    *string `json:"task_id,omitempty"`
}

// APIError — типизированные поля ошибки в стабильной форме ответа.
// Сырые тела ошибок внешних сервисов наружу не пробрасываются.
type APIError struct {
	Type   string `json:"type"`
	Detail string `json:"detail,omitempty"`
}

// SubmissionResult — стабильная форма ответа Submission API.
// Форма одинакова при успехе и при деградации: success-флаг плюс
// типизированные поля ошибки вместо проброса статусов внешних сервисов.
type SubmissionResult struct {
	Success   bool          `json:"success"`
	EventID   string        `json:"event_id"`
	ContentID string        `json:"content_id"`
	State     EventState    `json:"state"`
	Matches   *MatchSet     `json:"matches,omitempty"`
	Review    *ReviewStatus `json:"review,omitempty"`
	Degraded  bool          `json:"degraded"`
	Error     *APIError     `json:"error,omitempty"`
}
