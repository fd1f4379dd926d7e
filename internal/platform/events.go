package platform

// Normalized event variants produced at the platform boundary. The core
// never inspects raw updates.

type Member struct {
	ID       int64
	IsBot    bool
	Username string
}

// JoinEvent carries every member added in one service message.
type JoinEvent struct {
	ChatID  int64
	Members []Member
}

// MessageEvent is a new or edited message in the administered group.
type MessageEvent struct {
	ChatID    int64
	SenderID  int64
	MessageID int
	Text      string
	Edited    bool
}

// DMEvent is a private message to the bot.
type DMEvent struct {
	ChatID    int64
	SenderID  int64
	MessageID int
	Text      string
}
