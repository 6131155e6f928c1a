package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Credentials are what login asks for.
type Credentials struct {
	Username string
	Password string
}

// PromptCredentials asks for anything not already set.
func PromptCredentials(in io.Reader, out io.Writer, c Credentials) (Credentials, error) {
	reader := bufio.NewReader(in)

	if c.Username == "" {
		fmt.Fprintf(out, "  %sUsername:%s ", ColorBold, ColorReset)
		line, _ := reader.ReadString('\n')
		c.Username = strings.TrimSpace(line)
	}
	if c.Password == "" {
		fmt.Fprintf(out, "  %sPassword:%s ", ColorBold, ColorReset)
		line, _ := reader.ReadString('\n')
		c.Password = strings.TrimRight(line, "\r\n")
		fmt.Fprintln(out)
	}
	if c.Username == "" || c.Password == "" {
		return c, errors.New("username and password are required")
	}
	return c, nil
}

// TokenPath is where login stores the operator token.
func TokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "proxyhub", "token"), nil
}

func SaveToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(token+"\n"), 0600)
}

// LoadToken returns "" when no token has been saved.
func LoadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
