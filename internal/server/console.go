package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"hillpursuit/server/internal/logging"
	"hillpursuit/server/internal/session"
	"hillpursuit/server/internal/store"
	"hillpursuit/server/internal/wire"
)

const consoleHelp = `Available commands:
help: list commands
banner: display the server banner
login [<password> | <profile> <password>]: open the admin console
logout: close the admin console
changepassword <password>: change your admin password
lsplayers: list connected players
lsversions: list client software versions
lsbans: list active bans
ban <client id> <ip|profile> [days]: ban a connected player
unban <ban id>: remove a ban
lsadmins: list admins
addadmin <profile> <password>: add an admin
rmadmin <admin id>: remove an admin
stats: show server statistics
msg <text>: broadcast a server message
reloadrules: reload the rules script`

// console executes one admin command line and always returns exactly one text
// answer; internal errors become the answer instead of being swallowed.
func (s *Server) console(sess *session.Session, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "Empty command. Try help."
	}
	verb := strings.ToLower(fields[0])
	args := fields[1:]

	switch verb {
	case "help":
		return consoleHelp
	case "banner":
		return s.cfg.Banner
	case "login":
		return s.consoleLogin(sess, args)
	}

	if !sess.AdminConnected() {
		return "You must login first."
	}

	switch verb {
	case "logout":
		sess.DisconnectAdmin()
		return "Logged out."
	case "changepassword":
		return s.consoleChangePassword(sess, args)
	case "lsplayers":
		return s.consolePlayers()
	case "lsversions":
		return s.consoleVersions()
	case "lsbans":
		return s.consoleBans()
	case "ban":
		return s.consoleBan(sess, args)
	case "unban":
		return s.consoleUnban(args)
	case "lsadmins":
		return s.consoleAdmins()
	case "addadmin":
		return s.consoleAddAdmin(args)
	case "rmadmin":
		return s.consoleRemoveAdmin(args)
	case "stats":
		return s.consoleStats()
	case "msg":
		return s.consoleMessage(command)
	case "reloadrules":
		if err := s.rules.Reload(); err != nil {
			return fmt.Sprintf("Rules reload failed: %v.", err)
		}
		return "Rules reloaded."
	default:
		return fmt.Sprintf("Unknown command %q. Try help.", fields[0])
	}
}

// consoleLogin accepts, in order: a stored (profile, password) credential,
// the master password when one is configured, or a bare local login while the
// admin table is still empty.
func (s *Server) consoleLogin(sess *session.Session, args []string) string {
	switch len(args) {
	case 0:
		if !isLoopback(sess.RemoteIP()) {
			return fmt.Sprintf("Login failed: %v.", ErrBadCredentials)
		}
		has, err := s.store.HasAdmins(s.ctx)
		if err != nil {
			return fmt.Sprintf("Login failed: %v.", err)
		}
		if has {
			return "Local login is disabled once admins exist."
		}
		sess.ConnectAdmin(adminProfile(sess, "local"))
	case 1:
		if s.cfg.AdminPassword == "" || args[0] != s.cfg.AdminPassword {
			return fmt.Sprintf("Login failed: %v.", ErrBadCredentials)
		}
		sess.ConnectAdmin(adminProfile(sess, "master"))
	case 2:
		ok, err := s.store.CheckAdmin(s.ctx, args[0], args[1])
		if err != nil {
			return fmt.Sprintf("Login failed: %v.", err)
		}
		if !ok {
			return fmt.Sprintf("Login failed: %v.", ErrBadCredentials)
		}
		sess.ConnectAdmin(args[0])
	default:
		return "Usage: login [<password> | <profile> <password>]."
	}
	s.logger.Info("admin logged in",
		logging.Int("client", sess.ID), logging.String("profile", sess.AdminName()))
	return fmt.Sprintf("Logged in as %s.", sess.AdminName())
}

func (s *Server) consoleChangePassword(sess *session.Session, args []string) string {
	if len(args) != 1 {
		return "Usage: changepassword <password>."
	}
	if err := s.store.ChangePassword(s.ctx, sess.AdminName(), args[0]); err != nil {
		return fmt.Sprintf("Password change failed: %v.", err)
	}
	return "Password changed."
}

func (s *Server) consolePlayers() string {
	var b strings.Builder
	for _, sess := range s.registry.All() {
		mode := "ghost"
		if sess.Mode() == wire.ModeSlave {
			mode = "slave"
		}
		fmt.Fprintf(&b, "%d: %s (%s, %s, %d points)\n",
			sess.ID, displayName(sess), sess.RemoteIP(), mode, sess.Points())
	}
	if b.Len() == 0 {
		return "No player connected."
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (s *Server) consoleVersions() string {
	var b strings.Builder
	for _, sess := range s.registry.All() {
		fmt.Fprintf(&b, "%d: %s protocol %d version %q\n",
			sess.ID, displayName(sess), sess.Protocol(), sess.ClientVersion())
	}
	if b.Len() == 0 {
		return "No player connected."
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (s *Server) consoleBans() string {
	bans, err := s.store.Bans(s.ctx)
	if err != nil {
		return fmt.Sprintf("Ban list failed: %v.", err)
	}
	if len(bans) == 0 {
		return "No active ban."
	}
	now := s.sched.Now()
	var b strings.Builder
	for _, ban := range bans {
		fmt.Fprintf(&b, "%d: profile=%s ip=%s by=%s remaining=%s\n",
			ban.ID, ban.Profile, ban.IP, ban.By, ban.Remaining(now).Round(time.Minute))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// consoleBan inserts the ban and queues the target for the next housekeeping
// pass; the session is still present when the answer goes out.
func (s *Server) consoleBan(sess *session.Session, args []string) string {
	if len(args) < 2 || len(args) > 3 {
		return "Usage: ban <client id> <ip|profile> [days]."
	}
	targetID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Sprintf("Invalid client id %q.", args[0])
	}
	target, err := s.registry.Get(targetID)
	if err != nil {
		return fmt.Sprintf("Ban failed: %v.", err)
	}
	days := s.cfg.DefaultBanDays
	if len(args) == 3 {
		days, err = strconv.Atoi(args[2])
		if err != nil || days <= 0 {
			return fmt.Sprintf("Invalid ban duration %q.", args[2])
		}
	}
	profile, ip := store.Wildcard, store.Wildcard
	switch strings.ToLower(args[1]) {
	case "ip":
		ip = target.RemoteIP()
	case "profile":
		if target.Name() == "" {
			return "Ban failed: the player has no profile name yet."
		}
		profile = target.Name()
	default:
		return "Usage: ban <client id> <ip|profile> [days]."
	}
	banID, err := s.store.AddBan(s.ctx, profile, ip, days, sess.AdminName())
	if err != nil {
		return fmt.Sprintf("Ban failed: %v.", err)
	}
	s.pendingRemovals = append(s.pendingRemovals, targetID)
	s.logger.Info("ban issued",
		logging.Int("ban", banID), logging.Int("client", targetID),
		logging.String("profile", profile), logging.String("ip", ip),
		logging.String("by", sess.AdminName()))
	return fmt.Sprintf("Ban %d added; client %d will be disconnected.", banID, targetID)
}

func (s *Server) consoleUnban(args []string) string {
	if len(args) != 1 {
		return "Usage: unban <ban id>."
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Sprintf("Invalid ban id %q.", args[0])
	}
	if err := s.store.RemoveBan(s.ctx, id); err != nil {
		return fmt.Sprintf("Unban failed: %v.", err)
	}
	return fmt.Sprintf("Ban %d removed.", id)
}

func (s *Server) consoleAdmins() string {
	admins, err := s.store.Admins(s.ctx)
	if err != nil {
		return fmt.Sprintf("Admin list failed: %v.", err)
	}
	if len(admins) == 0 {
		return "No admin configured."
	}
	var b strings.Builder
	for _, admin := range admins {
		fmt.Fprintf(&b, "%d: %s\n", admin.ID, admin.Profile)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (s *Server) consoleAddAdmin(args []string) string {
	if len(args) != 2 {
		return "Usage: addadmin <profile> <password>."
	}
	id, err := s.store.AddAdmin(s.ctx, args[0], args[1])
	if err != nil {
		return fmt.Sprintf("Add admin failed: %v.", err)
	}
	return fmt.Sprintf("Admin %d (%s) added.", id, args[0])
}

func (s *Server) consoleRemoveAdmin(args []string) string {
	if len(args) != 1 {
		return "Usage: rmadmin <admin id>."
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Sprintf("Invalid admin id %q.", args[0])
	}
	if err := s.store.RemoveAdmin(s.ctx, id); err != nil {
		return fmt.Sprintf("Remove admin failed: %v.", err)
	}
	return fmt.Sprintf("Admin %d removed.", id)
}

func (s *Server) consoleStats() string {
	traffic := s.stats.Snapshot()
	ticks := s.monitor.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "Uptime: %s\n", s.sched.Now().Sub(s.startedAt).Round(time.Second))
	fmt.Fprintf(&b, "Phase: %s, %d session(s), %d named\n",
		s.phase, s.registry.Len(), s.registry.NamedCount())
	fmt.Fprintf(&b, "TCP: %d packets / %d bytes sent (biggest %d), %d packets / %d bytes received (biggest %d)\n",
		traffic.TCPPacketsSent, traffic.TCPBytesSent, traffic.BiggestTCPSent,
		traffic.TCPPacketsReceived, traffic.TCPBytesReceived, traffic.BiggestTCPReceived)
	fmt.Fprintf(&b, "UDP: %d packets / %d bytes sent (biggest %d), %d packets / %d bytes received (biggest %d)\n",
		traffic.UDPPacketsSent, traffic.UDPBytesSent, traffic.BiggestUDPSent,
		traffic.UDPPacketsReceived, traffic.UDPBytesReceived, traffic.BiggestUDPReceived)
	fmt.Fprintf(&b, "Loop: %d passes, avg %s (%.1f/s), max %s",
		ticks.Samples, ticks.Average, ticks.AverageHz(), ticks.Max)
	return b.String()
}

func (s *Server) consoleMessage(command string) string {
	text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(command), "msg"))
	if text == "" {
		return "Usage: msg <text>."
	}
	s.registry.Broadcast(serverEnvelope(wire.ChatMessage{Message: text}), -1)
	return "Message sent."
}

func adminProfile(sess *session.Session, fallback string) string {
	if sess.Name() != "" {
		return sess.Name()
	}
	return fallback
}

func displayName(sess *session.Session) string {
	if sess.Name() == "" {
		return "(unnamed)"
	}
	return sess.Name()
}

func isLoopback(ip string) bool {
	return ip == "127.0.0.1" || ip == "::1" || ip == "localhost"
}
