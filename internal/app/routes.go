package app

import (
	"net/url"
	"strings"

	"vote-app-client/internal/domain/session"
)

const (
	RouteLogin          = session.LoginRoute
	RouteRegister       = "/register"
	RouteForgotPassword = "/forgot-password"
	RouteDashboard      = "/dashboard"
	roomPrefix          = "/room/"
)

type Page string

const (
	PageLogin          Page = "login"
	PageRegister       Page = "register"
	PageForgotPassword Page = "forgot-password"
	PageDashboard      Page = "dashboard"
	PageRoom           Page = "room"
)

// Resolution is where a requested path ends up.
type Resolution struct {
	Page       Page
	Path       string
	RoomCode   string
	Redirected bool
}

// Resolve maps a path onto a page. Rooms are public, the dashboard needs a
// session and anything unknown goes to the login page.
func Resolve(path string, authenticated bool) Resolution {
	clean := "/" + strings.Trim(strings.TrimSpace(path), "/")

	switch clean {
	case RouteLogin:
		return Resolution{Page: PageLogin, Path: RouteLogin}
	case RouteRegister:
		return Resolution{Page: PageRegister, Path: RouteRegister}
	case RouteForgotPassword:
		return Resolution{Page: PageForgotPassword, Path: RouteForgotPassword}
	case RouteDashboard:
		if !authenticated {
			return Resolution{Page: PageLogin, Path: RouteLogin, Redirected: true}
		}
		return Resolution{Page: PageDashboard, Path: RouteDashboard}
	}

	if rest, ok := strings.CutPrefix(clean, roomPrefix); ok && rest != "" && !strings.Contains(rest, "/") {
		code, err := url.PathUnescape(rest)
		if err == nil && code != "" {
			return Resolution{Page: PageRoom, Path: clean, RoomCode: code}
		}
	}
	return Resolution{Page: PageLogin, Path: RouteLogin, Redirected: true}
}

func RoomPath(code string) string {
	return roomPrefix + url.PathEscape(code)
}

// InviteURL is the shareable link to a room under the client's base URL.
func InviteURL(base, code string) string {
	return strings.TrimRight(base, "/") + RoomPath(code)
}
