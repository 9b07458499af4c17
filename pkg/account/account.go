package account

import "fmt"

// Type identifies where an account's events come from. The numeric values are persisted.
type Type int

const (
	Local Type = 0
	// Unknown is the type of an account whose provider has not been determined yet.
	Unknown Type = 1
	// NotInherited marks a value that should have been copied from its owner but was not initialized yet.
	NotInherited   Type = 2
	Invalid        Type = 3
	GoogleCalendar Type = 4
	ICSFeed        Type = 5
)

func (t Type) String() string {
	switch t {
	case Local:
		return "LOCAL"
	case Unknown:
		return "Unknown"
	case NotInherited:
		return "NOT_INHERITED"
	case Invalid:
		return "INVALID"
	case GoogleCalendar:
		return "Google Calendar"
	case ICSFeed:
		return "ICS Feed"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// UserInfo is the minimal identity a provider reports for a linked account.
type UserInfo struct {
	Email       string
	DisplayName string
}

type Account struct {
	Id           int64
	Email        string
	Type         Type
	RefreshToken string
	UserInfo     UserInfo
	// Endpoint is the feed URL of an ICS account; empty for other types.
	Endpoint string
}

const LocalEmail = "local"

func (a Account) String() string {
	return fmt.Sprintf("Id: %d\nAccount type: %s\nEmail: %s\n", a.Id, a.Type, a.Email)
}
