// Package command implements the command router (spec.md §4.8, C9):
// parsing inbound envelopes, idempotency via a bounded processed-event set,
// and dispatch to the coordinator/grid/closure components.
package command

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moveguard/engine/internal/brokerport"
)

// Action enumerates the recognised contents.action values (spec.md §6).
type Action string

const (
	ActionOpenOrder             Action = "open_order"
	ActionCloseOrder            Action = "close_order"
	ActionClosePendingOrder     Action = "close_pending_order"
	ActionCloseAllOrders        Action = "close_all_orders"
	ActionCloseAllPendingOrders Action = "close_all_pending_orders"
	ActionCloseCycle            Action = "close_cycle"
	ActionCloseAllCycles        Action = "close_all_cycles"
	ActionUpdateBot             Action = "update_bot"
	ActionStartBot              Action = "start_bot"
	ActionStopBot               Action = "stop_bot"
	ActionUpdateOrderConfigs    Action = "update_order_configs"
)

// Kind is Action under the name the router historically used for the three
// actions it fully implements; kept as an alias so call sites that only ever
// cared about open_order/close_order/close_cycle read naturally.
type Kind = Action

const (
	KindOpenOrder  = ActionOpenOrder
	KindCloseOrder = ActionCloseOrder
	KindCloseCycle = ActionCloseCycle
)

// contents is the nested per-action payload of an inbound envelope
// (spec.md §6: "{ uuid, accountId, botId, contents: { action, ... } }").
type contents struct {
	Action      Action          `json:"action"`
	Direction   *int            `json:"direction,omitempty"` // 0 = buy, 1 = sell
	LotSize     *float64        `json:"lot_size,omitempty"`
	Price       *float64        `json:"price,omitempty"`
	Username    string          `json:"username,omitempty"`
	SentByAdmin bool            `json:"sent_by_admin,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
	OrderID     uint64          `json:"order_id,omitempty"`
	CycleID     string          `json:"id,omitempty"`
	Ids         json.RawMessage `json:"ids,omitempty"`
}

// envelope is the exact wire shape of an inbound command (spec.md §6).
type envelope struct {
	UUID      string   `json:"uuid"`
	AccountID string   `json:"accountId"`
	BotID     string   `json:"botId"`
	Contents  contents `json:"contents"`
}

// Command is the decoded, flattened form of an inbound envelope the rest of
// the router works against.
type Command struct {
	EventID     string // envelope.uuid
	AccountID   string
	BotID       string
	Type        Action
	Direction   *int
	LotSize     *float64
	Price       *float64
	Username    string
	SentByAdmin bool
	UserID      string
	OrderID     uint64
	CycleID     string
	CycleIDs    []string
	TargetAll   bool
}

// Status is the lifecycle of a command's processing, echoed back on the
// response channel (spec.md §6, §4.8).
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Details is the outbound envelope's nested `details` object (spec.md §6).
// User-visible failures put their reason in Error (§7: "a textual reason in
// details.error"); everything else goes in Message.
type Details struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Response is the outbound envelope emitted on the response channel
// (spec.md §6): `{ uuid, original_event_uuid, type, bot_id, account_id,
// user_name, timestamp, status, action, cycle_id, details }`.
type Response struct {
	UUID              string    `json:"uuid"`
	OriginalEventUUID string    `json:"original_event_uuid"`
	Type              string    `json:"type"`
	BotID             string    `json:"bot_id,omitempty"`
	AccountID         string    `json:"account_id,omitempty"`
	UserName          string    `json:"user_name,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	Status            Status   `json:"status"`
	Action            Action   `json:"action"`
	CycleID           string    `json:"cycle_id,omitempty"`
	Details           Details   `json:"details,omitempty"`
}

var errUnknownCommand = errors.New("command: unrecognised action")

// Parse decodes one inbound JSON envelope (spec.md §6).
func Parse(payload []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Command{}, err
	}
	if env.UUID == "" {
		return Command{}, errors.New("command: missing uuid")
	}

	switch env.Contents.Action {
	case ActionOpenOrder, ActionCloseOrder, ActionClosePendingOrder, ActionCloseAllOrders,
		ActionCloseAllPendingOrders, ActionCloseCycle, ActionCloseAllCycles,
		ActionUpdateBot, ActionStartBot, ActionStopBot, ActionUpdateOrderConfigs:
	default:
		return Command{}, errUnknownCommand
	}

	cmd := Command{
		EventID:     env.UUID,
		AccountID:   env.AccountID,
		BotID:       env.BotID,
		Type:        env.Contents.Action,
		Direction:   env.Contents.Direction,
		LotSize:     env.Contents.LotSize,
		Price:       env.Contents.Price,
		Username:    env.Contents.Username,
		SentByAdmin: env.Contents.SentByAdmin,
		UserID:      env.Contents.UserID,
		OrderID:     env.Contents.OrderID,
		CycleID:     env.Contents.CycleID,
	}

	if len(env.Contents.Ids) > 0 {
		var asString string
		if err := json.Unmarshal(env.Contents.Ids, &asString); err == nil {
			if asString == "all" {
				cmd.TargetAll = true
			}
		} else {
			var asSlice []string
			if err := json.Unmarshal(env.Contents.Ids, &asSlice); err == nil {
				cmd.CycleIDs = asSlice
			}
		}
	}
	return cmd, nil
}

// Side resolves the command's numeric direction field to a brokerport.Side,
// defaulting to Buy when unset (spec.md §4.8: "direction|type (0|1)").
func (c Command) Side() brokerport.Side {
	if c.Direction != nil && *c.Direction == 1 {
		return brokerport.Sell
	}
	return brokerport.Buy
}

// NewResponse builds the outbound envelope for cmd (spec.md §6): a fresh
// uuid, the echoed original_event_uuid, and a type derived from the action
// the same way the documented close_cycle_response is named.
func NewResponse(cmd Command, status Status, cycleID string, detail string) Response {
	d := Details{}
	if status == StatusFailed {
		d.Error = detail
	} else {
		d.Message = detail
	}
	return Response{
		UUID:              uuid.NewString(),
		OriginalEventUUID: cmd.EventID,
		Type:              string(cmd.Type) + "_response",
		BotID:             cmd.BotID,
		AccountID:         cmd.AccountID,
		UserName:          cmd.Username,
		Timestamp:         time.Now(),
		Status:            status,
		Action:            cmd.Type,
		CycleID:           cycleID,
		Details:           d,
	}
}

// processedEventBound is the cap on the idempotency set (spec.md §4.8:
// "a bounded set processed_events"). Sized generously for a busy command
// channel; oldest entries are evicted FIFO.
const processedEventBound = 10000

// Dedup tracks processed event UUIDs to make every command idempotent.
type Dedup struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// NewDedup constructs an empty Dedup set.
func NewDedup() *Dedup {
	return &Dedup{seen: make(map[string]struct{})}
}

// CheckAndMark reports whether eventID has already been processed; if not,
// it records it and returns false (meaning: proceed).
func (d *Dedup) CheckAndMark(eventID string) (alreadyProcessed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[eventID]; ok {
		return true
	}
	d.seen[eventID] = struct{}{}
	d.order = append(d.order, eventID)
	if len(d.order) > processedEventBound {
		evict := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, evict)
	}
	return false
}
