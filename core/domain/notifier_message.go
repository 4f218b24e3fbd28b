package domain

import "time"

// Message holds the fields of a fetched mail message that get reported.
type Message struct {
	ID               string
	Subject          string
	ReceivedDateTime time.Time
	SentDateTime     time.Time
	From             EmailAddress
	To               []EmailAddress
	Importance       string
	BodyType         string
	BodyContent      string
	WebLink          string
}

// EmailAddress is a display name plus address.
type EmailAddress struct {
	Name    string
	Address string
}

// String formats the address as "Name <address>" or just the address.
func (a EmailAddress) String() string {
	if a.Name != "" {
		return a.Name + " <" + a.Address + ">"
	}
	return a.Address
}
