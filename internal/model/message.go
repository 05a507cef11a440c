package model

import "time"

// MessageSummary is the per-message view returned by contact queries.
type MessageSummary struct {
	ID          string    `json:"message_id"`
	Subject     string    `json:"subject"`
	Date        time.Time `json:"date"`
	FromAddress string    `json:"from_address"`
}

// Message is the full metadata record used by relationship scans.
type Message struct {
	ID          string    `json:"message_id"`
	ThreadID    string    `json:"thread_id,omitempty"`
	FromAddress string    `json:"from_address"`
	FromName    string    `json:"from_name,omitempty"`
	To          []string  `json:"to"`
	CC          []string  `json:"cc,omitempty"`
	Subject     string    `json:"subject"`
	Date        time.Time `json:"date"`
	InReplyTo   string    `json:"in_reply_to,omitempty"`
}

// Recipients returns To and CC combined.
func (m Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.CC))
	out = append(out, m.To...)
	return append(out, m.CC...)
}

// MessageBody is the raw body returned by a body fetch.
type MessageBody struct {
	Plain string `json:"plain,omitempty"`
	HTML  string `json:"html,omitempty"`
}

// MessageExcerpt is what the extractor sees for one message.
type MessageExcerpt struct {
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
	Body    string    `json:"body"`
}
