package models

// UserMetadata holds the user-editable profile fields.
type UserMetadata struct {
	Username string `json:"username" dynamodbav:"username"`
	Email    string `json:"email" dynamodbav:"email"`
}

// User is a row in the UserData table, keyed by user_id.
//
// Users are never hard-deleted. Deleting a user sets Tombstone instead, so
// historical messages always resolve to a user_id that once existed. The
// top-level Email attribute backs the EmailIndex GSI used for login.
type User struct {
	UserID         string       `json:"user_id" dynamodbav:"user_id"`
	CreatedAt      string       `json:"created_at" dynamodbav:"created_at"`
	Tombstone      bool         `json:"-" dynamodbav:"tombstone"`
	Email          string       `json:"email" dynamodbav:"email"`
	HashedPassword string       `json:"-" dynamodbav:"hashed_password"`
	Metadata       UserMetadata `json:"metadata" dynamodbav:"metadata"`
}

// EmailClaim is a row in the EmailSet table. Its only purpose is global
// email uniqueness: it is written with an attribute_not_exists condition in
// the same transaction that creates the user. Claims are never released,
// even when the owning user is tombstoned.
type EmailClaim struct {
	Email string `json:"email" dynamodbav:"email"`
}
