package tools

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strings"
)

func SystemUri() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	username := "unknown"
	u, err := user.Current()
	if err == nil {
		username = u.Username
	}
	return fmt.Sprintf("%s@%s", username, hostname), nil
}

func DomainOfEmail(address string) (string, error) {
	i := strings.LastIndex(address, "@")
	if i < 0 || i == len(address)-1 {
		return "", errors.New("no domain was present in email address")
	}
	return strings.ToLower(address[i+1:]), nil
}
