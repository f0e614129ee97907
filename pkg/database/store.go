package database

import "errors"

// PageSize is the number of messages returned per history page.
const PageSize = 10

var (
	// ErrUserNotFound indicates no user exists with the given username.
	ErrUserNotFound = errors.New("user not found")
	// ErrChannelNotFound indicates no channel exists with the given id.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrFileNotFound indicates no file metadata exists for the given id.
	ErrFileNotFound = errors.New("file not found")
	// ErrDuplicateMembership indicates the user is already a channel member.
	ErrDuplicateMembership = errors.New("membership already exists")
)

// Membership roles.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// User is a registered account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Nickname     string
}

// ChannelRecord is a channel as persisted, including its membership sets.
// Admins are always members: an admin role row contributes to both sets.
type ChannelRecord struct {
	ID          int64
	Name        string
	Description string
	JoinKey     string
	CreatorID   int64
	Members     []int64
	Admins      []int64
}

// StoredMessage is one message row from a history page.
type StoredMessage struct {
	Sender string
	Text   string
	SentAt int64 // unix milliseconds
}

// FileMeta describes an uploaded file. Exactly one of RecipientID and
// ChannelID is non-zero, depending on the upload target.
type FileMeta struct {
	UUID        string
	Filename    string
	SenderID    int64
	RecipientID int64
	ChannelID   int64
}

// Store is the persistence backend the server core consumes. Calls are
// synchronous and never retried internally; a failure surfaces to the
// caller as a single server-side error for that request.
type Store interface {
	CreateUser(username, passwordHash string) (int64, error)
	FindUserByName(username string) (*User, error)
	FindUserByID(id int64) (*User, error)

	CreateChannel(name, description, joinKey string, creatorID int64) (int64, error)
	ListChannelIDs() ([]int64, error)
	LoadChannel(id int64) (*ChannelRecord, error)
	AddChannelMembership(channelID, userID int64, role string) error

	AppendChannelMessage(senderID, channelID int64, text string) error
	AppendDirectMessage(senderID, recipientID int64, text string) error
	PageChannelMessages(channelID int64, page int) ([]StoredMessage, error)
	PageDirectMessages(userA, userB int64, page int) ([]StoredMessage, error)
	DistinctDirectPeers(userID int64) ([]int64, error)

	StoreFileMeta(meta *FileMeta) error
	FindFileByUUID(uuid string) (*FileMeta, error)

	Close() error
}
