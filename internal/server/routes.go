package server

import (
	"github.com/charmbracelet/log"
)

// RouterOpts assembles the room's HTTP surface. ControllerAuth and Limiter are optional.
type RouterOpts struct {
	Room           *RoomHandler
	ControllerAuth *ControllerAuth
	Authenticator  Authenticator
	Limiter        *UserLimiter
	Logger         *log.Logger
}

// NewRouter builds a [BasicRouter] with request ids, access logging and identity
// applied to every route.
func NewRouter(opts RouterOpts) *BasicRouter {
	if opts.Authenticator == nil {
		opts.Authenticator = HeaderAuthenticator{}
	}

	r := NewBasicRouter()
	r.Use(RequestID())
	if opts.Logger != nil {
		r.Use(Logging(opts.Logger))
	}
	r.Use(Identify(opts.Authenticator))

	var submit []Middleware
	if opts.Limiter != nil {
		submit = append(submit, opts.Limiter.Middleware())
	}
	opts.Room.Register(r, submit...)

	if opts.ControllerAuth != nil {
		r.Handler(opts.ControllerAuth)
	}
	return r
}
