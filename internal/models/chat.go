package models

// Chat is a row in the ChatData table, keyed by chat_id.
// Unlike users, chats are hard-deleted.
type Chat struct {
	ChatID    string `json:"chat_id" dynamodbav:"chat_id"`
	CreatedAt string `json:"created_at" dynamodbav:"created_at"`
}

// Membership is a row in the UserChat table (user_id partition key, chat_id
// sort key). One row exists per (user, chat) pair and is the sole authority
// for "is this user in this chat". The ChatIdIndex GSI inverts the key order
// for chat-to-members fan-out.
type Membership struct {
	UserID string `json:"user_id" dynamodbav:"user_id"`
	ChatID string `json:"chat_id" dynamodbav:"chat_id"`
}
