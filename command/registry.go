package command

import (
	"context"
	"log/slog"
	"strings"
)

// Action runs a command. It is called on the event loop and must not block;
// remote work is expected to be started asynchronously.
type Action func(ctx context.Context, inv *Invocation)

// Command is an immutable registry entry.
type Command struct {
	Name        string
	Token       string
	Aliases     []string
	Permissions []Permission
	Action      Action
}

// Invocation is one authorized request to run a Command.
type Invocation struct {
	Token         string
	Args          []string
	Command       *Command
	Sender        Sender
	CorrelationID string

	// ReplyFunc delivers Reply text; nil discards it.
	ReplyFunc func(text string)
}

// Reply sends text back to the chat channel the invocation came from.
func (inv *Invocation) Reply(text string) {
	if inv.ReplyFunc != nil {
		inv.ReplyFunc(text)
	}
}

// ShortcutDef describes a derived command. Permissions == nil inherits the
// base command's requirements; an empty non-nil slice makes the shortcut public.
type ShortcutDef struct {
	Name        string       `yaml:"name" json:"name"`
	Token       string       `yaml:"command" json:"command"`
	Aliases     []string     `yaml:"aliases" json:"aliases"`
	Permissions []Permission `yaml:"permissions" json:"permissions"`
	Args        []string     `yaml:"args" json:"args"`
	Base        string       `yaml:"base_command" json:"base_command"`
}

// Registry maps invocation tokens and aliases to commands. It is populated at
// startup and read-only afterwards. Later registrations of the same token
// replace earlier ones.
type Registry struct {
	byToken map[string]*Command
	byName  map[string]*Command
	order   []*Command
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byToken: make(map[string]*Command),
		byName:  make(map[string]*Command),
	}
}

// Register installs base commands in declaration order.
func (r *Registry) Register(cmds ...Command) {
	for i := range cmds {
		c := cmds[i]
		c.Aliases = append([]string(nil), cmds[i].Aliases...)
		c.Permissions = append([]Permission(nil), cmds[i].Permissions...)
		r.install(&c)
	}
}

func (r *Registry) install(c *Command) {
	r.order = append(r.order, c)
	r.byName[strings.ToLower(c.Name)] = c
	r.byToken[strings.ToLower(c.Token)] = c
	for _, a := range c.Aliases {
		r.byToken[strings.ToLower(a)] = c
	}
}

// AddShortcuts resolves each definition against an already registered base
// command and installs the derived command. Definitions naming an unknown
// base are skipped. It returns the number of shortcuts installed.
func (r *Registry) AddShortcuts(defs []ShortcutDef) int {
	added := 0
	for _, d := range defs {
		base, ok := r.byName[strings.ToLower(d.Base)]
		if !ok {
			slog.Warn("shortcut references unknown base command; skipped",
				slog.String("shortcut", d.Name), slog.String("base", d.Base), slog.String("component", "command"))
			continue
		}
		perms := base.Permissions
		if d.Permissions != nil {
			perms = d.Permissions
		}
		r.install(&Command{
			Name:        d.Name,
			Token:       d.Token,
			Aliases:     append([]string(nil), d.Aliases...),
			Permissions: append([]Permission(nil), perms...),
			Action:      prefixArgs(append([]string(nil), d.Args...), base.Action),
		})
		added++
	}
	return added
}

// prefixArgs returns an action that prepends fixed to the invocation's
// arguments before delegating to next.
func prefixArgs(fixed []string, next Action) Action {
	return func(ctx context.Context, inv *Invocation) {
		args := make([]string, 0, len(fixed)+len(inv.Args))
		args = append(args, fixed...)
		args = append(args, inv.Args...)
		inv.Args = args
		next(ctx, inv)
	}
}

// Lookup finds a command by token or alias, ignoring case.
func (r *Registry) Lookup(token string) (*Command, bool) {
	c, ok := r.byToken[strings.ToLower(token)]
	return c, ok
}

// Commands returns the registered commands in registration order.
func (r *Registry) Commands() []*Command {
	return append([]*Command(nil), r.order...)
}
