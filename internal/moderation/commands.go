package moderation

import "strings"

// The private control channel understands three commands; anything else from
// an administrator gets the help text.

type CommandKind int

const (
	CmdHelp CommandKind = iota
	CmdActivate
	CmdAddWords
	CmdStatus
)

type AdminCommand struct {
	Kind  CommandKind
	Words []string
}

const helpText = `Supported commands:
  activate              switch moderation on (one-way)
  /orwell word          add a banned word
  /orwell w1,w2,w3      add several banned words
  /status               moderation status summary`

// ParseAdminCommand interprets a private message from an administrator.
// Keywords are case-insensitive; word arguments keep their spelling here and
// are normalized on storage.
func ParseAdminCommand(text string) AdminCommand {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return AdminCommand{Kind: CmdHelp}
	}

	switch strings.ToLower(fields[0]) {
	case "activate":
		return AdminCommand{Kind: CmdActivate}
	case "/status":
		return AdminCommand{Kind: CmdStatus}
	case "/orwell":
		args := strings.Join(fields[1:], " ")
		var words []string
		for _, part := range strings.Split(args, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				words = append(words, part)
			}
		}
		if len(words) == 0 {
			return AdminCommand{Kind: CmdHelp}
		}
		return AdminCommand{Kind: CmdAddWords, Words: words}
	}
	return AdminCommand{Kind: CmdHelp}
}
