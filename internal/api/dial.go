package api

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Conn is an admin client bound to its own connection.
type Conn struct {
	*Client
	cc *grpc.ClientConn
}

// Dial connects to the daemon's unix socket.
func Dial(socketPath string) (*Conn, error) {
	cc, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Conn{Client: NewClient(cc), cc: cc}, nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.cc.Close()
}
