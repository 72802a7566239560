package models

// Message is a row in the ChatHistory table (chat_id partition key, ulid
// sort key). The ULID sort key keeps history in send order; Timestamp is
// derived from the ULID's embedded time. Messages are immutable and only
// removed by the bulk purge that follows a chat deletion.
type Message struct {
	ChatID    string `json:"chat_id" dynamodbav:"chat_id"`
	ULID      string `json:"ulid" dynamodbav:"ulid"`
	Timestamp string `json:"timestamp" dynamodbav:"timestamp"`
	UserID    string `json:"user_id" dynamodbav:"user_id"`
	Content   string `json:"content" dynamodbav:"content"`
}
