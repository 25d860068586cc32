// Package whatsapp adapts go.mau.fi/whatsmeow to the transport contract.
// Device keys live in whatsmeow's own SQL store; the credential blob handed
// to the session is only the paired device JID that selects them.
package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/nextlevelbuilder/wagate/internal/compose"
	"github.com/nextlevelbuilder/wagate/internal/transport"
)

// Config configures the adapter.
type Config struct {
	// DB holds whatsmeow's device tables. Dialect is "sqlite3" or "postgres".
	DB      *sql.DB
	Dialect string
	Media   MediaFetcher
	Logger  *slog.Logger
}

// Transport opens whatsmeow connections.
type Transport struct {
	container *sqlstore.Container
	media     MediaFetcher
	log       waLog.Logger
}

// New upgrades the device store schema and returns the adapter.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	log := NewLogger(cfg.Logger, "whatsmeow")
	container := sqlstore.NewWithDB(cfg.DB, cfg.Dialect, log.Sub("Database"))
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("upgrade device store: %w", err)
	}
	return &Transport{container: container, media: cfg.Media, log: log}, nil
}

// Open implements transport.Transport. ctx bounds only the device lookup;
// the connection lives until Close.
func (t *Transport) Open(ctx context.Context, creds []byte, sink transport.Sink) (transport.Conn, error) {
	device, err := t.device(ctx, creds)
	if err != nil {
		return nil, err
	}

	client := whatsmeow.NewClient(device, t.log.Sub("Client"))
	// Reconnects are owned by the session manager.
	client.EnableAutoReconnect = false

	connCtx, cancel := context.WithCancel(context.Background())
	c := &conn{
		client:  client,
		sink:    sink,
		cancel:  cancel,
		builder: &builder{media: t.media, up: client},
	}
	c.handlerID = client.AddEventHandler(c.handleEvent)

	if client.Store.ID == nil {
		qr, err := client.GetQRChannel(connCtx)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("pairing channel: %w", err)
		}
		go c.forwardQR(qr)
	}

	if err := client.Connect(); err != nil {
		c.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return c, nil
}

// device selects the stored device for creds, or a fresh unpaired one.
func (t *Transport) device(ctx context.Context, creds []byte) (*store.Device, error) {
	if len(creds) == 0 {
		return t.container.NewDevice(), nil
	}
	jid, err := types.ParseJID(string(creds))
	if err != nil {
		slog.Warn("whatsapp: unreadable device id, pairing again", "error", err)
		return t.container.NewDevice(), nil
	}
	device, err := t.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	if device == nil {
		slog.Warn("whatsapp: device keys missing, pairing again", "jid", jid.String())
		return t.container.NewDevice(), nil
	}
	return device, nil
}

type conn struct {
	client    *whatsmeow.Client
	sink      transport.Sink
	cancel    context.CancelFunc
	builder   *builder
	handlerID uint32

	closed    atomic.Bool
	closeOnce sync.Once
}

func (c *conn) handleEvent(evt interface{}) {
	if c.closed.Load() {
		return
	}
	if ev, ok := mapEvent(evt); ok {
		c.sink(ev)
	}
}

func (c *conn) forwardQR(items <-chan whatsmeow.QRChannelItem) {
	for item := range items {
		if c.closed.Load() {
			return
		}
		if ev, ok := mapQRItem(item); ok {
			c.sink(ev)
		} else {
			slog.Debug("whatsapp: pairing event", "event", item.Event)
		}
	}
}

// Send implements transport.Conn.
func (c *conn) Send(ctx context.Context, target string, msg compose.Composed) (transport.Receipt, error) {
	jid, err := ParseTarget(target)
	if err != nil {
		return transport.Receipt{}, err
	}
	wire, err := c.builder.build(ctx, msg)
	if err != nil {
		return transport.Receipt{}, err
	}
	resp, err := c.client.SendMessage(ctx, jid, wire)
	if err != nil {
		return transport.Receipt{}, fmt.Errorf("send message: %w", err)
	}
	return transport.Receipt{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

// Close implements transport.Conn.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.client.RemoveEventHandler(c.handlerID)
		c.client.Disconnect()
	})
	return nil
}
