// Package trackerclient implements the peer-side of the tracker protocol
// (§4.2, §6): REGISTER, QUERY, UNREGISTER, SEARCH_BY_NAME, and ANNOUNCE,
// each a single dial-send-receive-close round trip bounded by the tracker
// control timeout (§5).
package trackerclient

import (
	"net"
	"time"

	"github.com/mt-dev/minitorrent/pkg/constants"
	"github.com/mt-dev/minitorrent/pkg/wire"
)

// Client talks to one tracker endpoint. It holds no persistent connection;
// every call dials fresh, matching the tracker's accept-per-connection
// server loop.
type Client struct {
	Addr    string
	Timeout time.Duration
}

// New creates a client for the tracker listening at addr.
func New(addr string) *Client {
	return &Client{Addr: addr, Timeout: constants.TrackerControlTimeout}
}

func (c *Client) dial() (net.Conn, error) {
	return net.DialTimeout("tcp", c.Addr, c.Timeout)
}

func (c *Client) roundTrip(msg interface{}, reply interface{}) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := wire.SendMessage(conn, msg); err != nil {
		return err
	}
	return wire.ReceiveMessage(conn, c.Timeout, reply)
}

// Register performs REGISTER and returns the tracker's reply.
func (c *Client) Register(fileID, filename string, numChunks int, peerID, host string, port int) (*wire.TrackerReply, error) {
	var reply wire.TrackerReply
	msg := wire.NewRegisterMessage(fileID, filename, numChunks, peerID, host, port)
	if err := c.roundTrip(msg, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Query performs QUERY and returns the tracker's reply.
func (c *Client) Query(fileID string) (*wire.TrackerReply, error) {
	var reply wire.TrackerReply
	if err := c.roundTrip(wire.NewQueryMessage(fileID), &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Unregister performs UNREGISTER and returns the tracker's reply.
func (c *Client) Unregister(fileID, peerID string) (*wire.TrackerReply, error) {
	var reply wire.TrackerReply
	if err := c.roundTrip(wire.NewUnregisterMessage(fileID, peerID), &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// SearchByName performs SEARCH_BY_NAME and returns the tracker's reply.
func (c *Client) SearchByName(filename string) (*wire.SearchReply, error) {
	var reply wire.SearchReply
	if err := c.roundTrip(wire.NewSearchByNameMessage(filename), &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// AnnounceStarted performs ANNOUNCE{event:"started"} with the full peer
// descriptor required for that event (§4.2).
func (c *Client) AnnounceStarted(fileID, filename string, numChunks int, peerID, host string, port int) (*wire.TrackerReply, error) {
	var reply wire.TrackerReply
	msg := wire.AnnounceMessage{
		Type: wire.TypeAnnounce, Event: wire.EventStarted,
		InfoHash: fileID, PeerID: peerID, Host: host, Port: port,
		Filename: filename, NumChunks: numChunks,
	}
	if err := c.roundTrip(msg, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// AnnounceStopped performs ANNOUNCE{event:"stopped"}.
func (c *Client) AnnounceStopped(fileID, peerID string) (*wire.TrackerReply, error) {
	var reply wire.TrackerReply
	msg := wire.NewAnnounceMessage(wire.EventStopped, fileID, peerID)
	if err := c.roundTrip(msg, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// AnnounceCompleted performs ANNOUNCE{event:"completed"}; advisory only.
func (c *Client) AnnounceCompleted(fileID, peerID string) (*wire.TrackerReply, error) {
	var reply wire.TrackerReply
	msg := wire.NewAnnounceMessage(wire.EventCompleted, fileID, peerID)
	if err := c.roundTrip(msg, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
