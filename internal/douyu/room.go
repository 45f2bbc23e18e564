// Package douyu fetches room metadata and the gift catalog from the
// platform's open room API.
package douyu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SkynetNext/gift-recorder/internal/gift"
)

var (
	// ErrMetadataFetch is returned when the room API cannot be reached or reports an error
	ErrMetadataFetch = errors.New("metadata fetch failed")

	// ErrRoomOffline is returned when the room is not live
	ErrRoomOffline = errors.New("room is not live")
)

const (
	// roomStatusOffline is the room_status value for a room that is not broadcasting
	roomStatusOffline = "2"

	// giftTypeCash marks gifts paid in currency; other gifts are paid in fish balls
	giftTypeCash = "2"
)

// Room is the metadata needed to start a recording session
type Room struct {
	// ID is the numeric room id (the command line may use an alias)
	ID      string
	Name    string
	Owner   string
	Live    bool
	Catalog gift.Catalog
}

// roomResponse mirrors the room API payload. Numeric fields are decoded as
// json.Number because the API mixes quoted and unquoted numbers.
type roomResponse struct {
	Error json.Number `json:"error"`
	Data  json.RawMessage
}

type roomData struct {
	RoomID     json.Number `json:"room_id"`
	RoomName   string      `json:"room_name"`
	OwnerName  string      `json:"owner_name"`
	RoomStatus json.Number `json:"room_status"`
	Gift       []struct {
		ID    json.Number `json:"id"`
		Name  string      `json:"name"`
		Type  json.Number `json:"type"`
		Price json.Number `json:"pc"`
	} `json:"gift"`
}

// Client queries the room metadata API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a metadata client. baseURL is the room endpoint without
// the trailing room identifier, e.g. "http://open.douyucdn.cn/api/RoomApi/room".
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchRoom loads room status, numeric id and gift catalog.
// It returns ErrRoomOffline (with the room filled in) when the room is not live.
func (c *Client) FetchRoom(ctx context.Context, room string) (*Room, error) {
	endpoint := c.baseURL + "/" + url.PathEscape(room)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrMetadataFetch, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: room API returned status %d: %s", ErrMetadataFetch, resp.StatusCode, string(body))
	}

	var envelope roomResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrMetadataFetch, err)
	}
	if envelope.Error.String() != "0" {
		return nil, fmt.Errorf("%w: room API error %s", ErrMetadataFetch, envelope.Error.String())
	}

	var data roomData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: failed to decode room data: %v", ErrMetadataFetch, err)
	}

	entries := make([]gift.CatalogEntry, 0, len(data.Gift))
	for _, g := range data.Gift {
		entries = append(entries, gift.CatalogEntry{
			ID:    g.ID.String(),
			Name:  g.Name,
			Price: priceLabel(g.Price.String(), g.Type.String()),
		})
	}

	r := &Room{
		ID:      data.RoomID.String(),
		Name:    data.RoomName,
		Owner:   data.OwnerName,
		Live:    data.RoomStatus.String() != roomStatusOffline,
		Catalog: gift.NewCatalog(entries),
	}
	if r.ID == "" {
		r.ID = room
	}
	if !r.Live {
		return r, ErrRoomOffline
	}
	return r, nil
}

// priceLabel appends the currency unit: 元 for cash gifts, 鱼丸 otherwise
func priceLabel(price, giftType string) string {
	if giftType == giftTypeCash {
		return price + "元"
	}
	return price + "鱼丸"
}
