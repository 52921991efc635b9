package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"vote-app-client/internal/domain/room"
	"vote-app-client/internal/domain/session"
)

const (
	routeLogin          = "/auth/login"
	routeRegister       = "/auth/register"
	routeLogout         = "/auth/logOut"
	routeForgotPassword = "/auth/forgot-password"
	routeResetPassword  = "/auth/reset-password"
	routeRooms          = "/rooms"
	routeMyRooms        = "/rooms/my-rooms"
	routeRoom           = "/rooms/{roomId}"
	routeVote           = "/rooms/{roomId}/vote"
	routeTallies        = "/rooms/{roomId}/tallies"
	routeRequestOTP     = "/rooms/{roomId}/request-otp"
	routeVerifyOTP      = "/rooms/{roomId}/verify-otp"
	routeAddVoters      = "/rooms/{roomId}/add-accredited-voters"
	routeVoters         = "/rooms/{roomId}/accredited-voters"
)

var (
	_ session.AuthAPI   = (*Client)(nil)
	_ room.API          = (*Client)(nil)
	_ room.DashboardAPI = (*Client)(nil)
)

func roomPath(route, code string) string {
	return strings.Replace(route, "{roomId}", url.PathEscape(code), 1)
}

type authResponse session.AuthResponse

func (r *authResponse) validate() error {
	if r.Token == "" {
		return fmt.Errorf("token: %w", errMissingField)
	}
	return nil
}

type roomResponse struct {
	Room *room.Room `json:"room"`
}

func (r *roomResponse) validate() error {
	if r.Room == nil || r.Room.Code == "" {
		return fmt.Errorf("room.roomId: %w", errMissingField)
	}
	return nil
}

type roomsResponse struct {
	Rooms []room.Room `json:"rooms"`
}

func (r *roomsResponse) validate() error {
	for i := range r.Rooms {
		if r.Rooms[i].Code == "" {
			return fmt.Errorf("rooms[%d].roomId: %w", i, errMissingField)
		}
	}
	return nil
}

type talliesResponse struct {
	Tallies []int `json:"tallies"`
}

func (r *talliesResponse) validate() error {
	if r.Tallies == nil {
		return fmt.Errorf("tallies: %w", errMissingField)
	}
	for i, n := range r.Tallies {
		if n < 0 {
			return fmt.Errorf("tallies[%d] is negative", i)
		}
	}
	return nil
}

type verifyResponse struct {
	VoterName string `json:"voterName"`
}

func (r *verifyResponse) validate() error { return nil }

type votersResponse struct {
	Voters []room.AccreditedVoter `json:"voters"`
}

func (r *votersResponse) validate() error {
	for i, v := range r.Voters {
		if v.PhoneNumber == "" {
			return fmt.Errorf("voters[%d].phoneNumber: %w", i, errMissingField)
		}
	}
	return nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*session.AuthResponse, error) {
	var out authResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		route:  routeLogin,
		path:   routeLogin,
		body:   map[string]string{"email": email, "password": password},
		out:    &out,
		auth:   true,
	})
	if err != nil {
		return nil, err
	}
	resp := session.AuthResponse(out)
	return &resp, nil
}

func (c *Client) Register(ctx context.Context, email, password, name string) (*session.AuthResponse, error) {
	var out authResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		route:  routeRegister,
		path:   routeRegister,
		body:   map[string]string{"email": email, "password": password, "name": name},
		out:    &out,
		auth:   true,
	})
	if err != nil {
		return nil, err
	}
	resp := session.AuthResponse(out)
	return &resp, nil
}

// Logout sends token rather than the current credential, which the session
// has already dropped.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, request{method: http.MethodGet, route: routeLogout, path: routeLogout, token: token})
}

func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		route:  routeForgotPassword,
		path:   routeForgotPassword,
		body:   map[string]string{"email": email},
	})
}

func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		route:  routeResetPassword,
		path:   routeResetPassword,
		body:   map[string]string{"token": token, "newPassword": newPassword},
	})
}

func (c *Client) CreateRoom(ctx context.Context, req room.CreateRequest) (*room.Room, error) {
	var out roomResponse
	err := c.do(ctx, request{method: http.MethodPost, route: routeRooms, path: routeRooms, body: req, out: &out})
	if err != nil {
		return nil, err
	}
	return out.Room, nil
}

func (c *Client) GetRoom(ctx context.Context, code string) (*room.Room, error) {
	var out roomResponse
	err := c.do(ctx, request{method: http.MethodGet, route: routeRoom, path: roomPath(routeRoom, code), out: &out})
	if err != nil {
		return nil, err
	}
	return out.Room, nil
}

func (c *Client) MyRooms(ctx context.Context) ([]room.Room, error) {
	var out roomsResponse
	err := c.do(ctx, request{method: http.MethodGet, route: routeMyRooms, path: routeMyRooms, out: &out})
	if err != nil {
		return nil, err
	}
	if out.Rooms == nil {
		return []room.Room{}, nil
	}
	return out.Rooms, nil
}

func (c *Client) DeleteRoom(ctx context.Context, code string) error {
	return c.do(ctx, request{method: http.MethodDelete, route: routeRoom, path: roomPath(routeRoom, code)})
}

// Vote submits a ballot. phoneNumber is only sent for accredited rooms.
func (c *Client) Vote(ctx context.Context, code, optionID, phoneNumber string) error {
	body := struct {
		OptionID    string `json:"optionId"`
		PhoneNumber string `json:"phoneNumber,omitempty"`
	}{OptionID: optionID, PhoneNumber: phoneNumber}
	return c.do(ctx, request{method: http.MethodPost, route: routeVote, path: roomPath(routeVote, code), body: body})
}

func (c *Client) LiveTallies(ctx context.Context, code string) ([]int, error) {
	var out talliesResponse
	err := c.do(ctx, request{method: http.MethodGet, route: routeTallies, path: roomPath(routeTallies, code), out: &out})
	if err != nil {
		return nil, err
	}
	return out.Tallies, nil
}

func (c *Client) RequestOTP(ctx context.Context, code, phoneNumber string) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		route:  routeRequestOTP,
		path:   roomPath(routeRequestOTP, code),
		body:   map[string]string{"phoneNumber": phoneNumber},
	})
}

func (c *Client) VerifyOTP(ctx context.Context, code, phoneNumber, otp string) (string, error) {
	var out verifyResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		route:  routeVerifyOTP,
		path:   roomPath(routeVerifyOTP, code),
		body:   map[string]string{"phoneNumber": phoneNumber, "otp": otp},
		out:    &out,
	})
	if err != nil {
		return "", err
	}
	return out.VoterName, nil
}

func (c *Client) AddAccreditedVoters(ctx context.Context, code string, voters []room.VoterInput) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		route:  routeAddVoters,
		path:   roomPath(routeAddVoters, code),
		body:   map[string][]room.VoterInput{"voters": voters},
	})
}

func (c *Client) AccreditedVoters(ctx context.Context, code string) ([]room.AccreditedVoter, error) {
	var out votersResponse
	err := c.do(ctx, request{method: http.MethodGet, route: routeVoters, path: roomPath(routeVoters, code), out: &out})
	if err != nil {
		return nil, err
	}
	return out.Voters, nil
}
