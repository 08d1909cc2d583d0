package webhook

// ReportPayload is the fixed wire shape consumed by the report-tracking endpoint.
type ReportPayload struct {
	WAUser      ReportUser `json:"waUser"`
	Task        ReportTask `json:"task"`
	WAMessageID string     `json:"waMessageId"`
}

type ReportUser struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type ReportTask struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Evidence string `json:"evidence,omitempty"`
}
