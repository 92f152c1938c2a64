package bulkbrev

import (
	"fmt"
	"net/mail"
)

// BulkRequest is the body of a bulk send, one message to many receivers
type BulkRequest struct {
	Sender    string   `json:"sender"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	Receivers []string `json:"receivers"`
}

// SingleRequest is the body of a synchronous send to one receiver
type SingleRequest struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

// BulkReceipt is returned when a bulk job has been accepted
type BulkReceipt struct {
	Message         string `json:"message"`
	RequestId       string `json:"requestId"`
	TotalRecipients int    `json:"totalRecipients"`
	StatusUrl       string `json:"statusUrl"`
}

// SingleReceipt is returned when a single email has been handed to the transport
type SingleReceipt struct {
	Message   string `json:"message"`
	MessageId string `json:"messageId"`
	Recipient string `json:"recipient"`
}

func AddressOf(email string) Address {
	return Address{Email: email}
}

func NewAddress(name string, email string) Address {
	return Address{Name: name, Email: email}
}

type Address struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (a Address) String() string {
	if len(a.Name) == 0 {
		return a.Email
	}
	return fmt.Sprintf("\"%s\" <%s>", a.Name, a.Email)
}

func (a Address) Valid() error {
	_, err := mail.ParseAddress(a.String())
	return err
}
