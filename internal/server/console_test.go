package server

import (
	"fmt"
	"strings"
	"testing"

	"hillpursuit/server/internal/wire"
)

func TestConsoleRequiresLogin(t *testing.T) {
	s, _, _ := newTestServer(t)
	sess, _ := join(t, s, "10.0.0.1", "ayla", wire.ModeGhost)

	if answer := s.console(sess, "lsplayers"); answer != "You must login first." {
		t.Fatalf("unexpected answer %q", answer)
	}
	if answer := s.console(sess, "banner"); answer != "test banner" {
		t.Fatalf("banner must not require login, got %q", answer)
	}
	if answer := s.console(sess, "help"); !strings.Contains(answer, "ban <client id>") {
		t.Fatalf("help must list commands, got %q", answer)
	}
}

func TestConsoleLoginVariants(t *testing.T) {
	s, _, st := newTestServer(t)
	sess, _ := join(t, s, "10.0.0.1", "ayla", wire.ModeGhost)

	//1.- Wrong master password.
	if answer := s.console(sess, "login wrong"); !strings.Contains(answer, "failed") {
		t.Fatalf("bad password must fail, got %q", answer)
	}
	if sess.AdminConnected() {
		t.Fatalf("failed login must not connect")
	}
	//2.- Master password.
	if answer := s.console(sess, "login secret"); answer != "Logged in as ayla." {
		t.Fatalf("master login failed: %q", answer)
	}
	if sess.AdminName() != "ayla" {
		t.Fatalf("audit name not captured: %q", sess.AdminName())
	}
	s.console(sess, "logout")
	if sess.AdminConnected() {
		t.Fatalf("logout must disconnect")
	}

	//3.- Stored credential.
	if _, err := st.AddAdmin(s.ctx, "ops", "pw123"); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	if answer := s.console(sess, "login ops pw123"); answer != "Logged in as ops." {
		t.Fatalf("credential login failed: %q", answer)
	}
	s.console(sess, "logout")
	if answer := s.console(sess, "login ops nope"); !strings.Contains(answer, "failed") {
		t.Fatalf("bad credential must fail, got %q", answer)
	}
}

func TestConsoleLocalBootstrapLogin(t *testing.T) {
	s, _, st := newTestServer(t)
	local, _ := join(t, s, "127.0.0.1", "op", wire.ModeGhost)
	remote, _ := join(t, s, "10.0.0.2", "far", wire.ModeGhost)

	//1.- Remote bare login is never allowed.
	if answer := s.console(remote, "login"); !strings.Contains(answer, "failed") {
		t.Fatalf("remote bare login must fail, got %q", answer)
	}
	//2.- Loopback bare login works while the admin table is empty.
	if answer := s.console(local, "login"); answer != "Logged in as op." {
		t.Fatalf("local bootstrap login failed: %q", answer)
	}
	if answer := s.console(local, "addadmin op pw"); !strings.Contains(answer, "added") {
		t.Fatalf("addadmin failed: %q", answer)
	}
	s.console(local, "logout")
	//3.- Once an admin exists, the bootstrap path closes.
	if answer := s.console(local, "login"); answer != "Local login is disabled once admins exist." {
		t.Fatalf("bootstrap must close after first admin, got %q", answer)
	}
	if has, _ := st.HasAdmins(s.ctx); !has {
		t.Fatalf("admin table should have the seeded record")
	}
}

func TestConsoleAdminRecordLifecycle(t *testing.T) {
	s, _, _ := newTestServer(t)
	sess, _ := join(t, s, "10.0.0.1", "root", wire.ModeGhost)
	s.console(sess, "login secret")

	if answer := s.console(sess, "lsadmins"); answer != "No admin configured." {
		t.Fatalf("unexpected empty list answer %q", answer)
	}
	if answer := s.console(sess, "addadmin ops pw1"); answer != "Admin 1 (ops) added." {
		t.Fatalf("addadmin: %q", answer)
	}
	if answer := s.console(sess, "lsadmins"); !strings.Contains(answer, "1: ops") {
		t.Fatalf("lsadmins: %q", answer)
	}
	if answer := s.console(sess, "rmadmin 1"); answer != "Admin 1 removed." {
		t.Fatalf("rmadmin: %q", answer)
	}
	//1.- Internal errors become the answer, never silence.
	if answer := s.console(sess, "rmadmin 1"); !strings.Contains(answer, "failed") {
		t.Fatalf("double remove must answer with the error, got %q", answer)
	}
}

func TestConsoleChangePassword(t *testing.T) {
	s, _, st := newTestServer(t)
	sess, _ := join(t, s, "10.0.0.1", "ops", wire.ModeGhost)
	if _, err := st.AddAdmin(s.ctx, "ops", "old"); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	s.console(sess, "login ops old")

	if answer := s.console(sess, "changepassword new"); answer != "Password changed." {
		t.Fatalf("changepassword: %q", answer)
	}
	if ok, _ := st.CheckAdmin(s.ctx, "ops", "new"); !ok {
		t.Fatalf("new password not active")
	}
	if ok, _ := st.CheckAdmin(s.ctx, "ops", "old"); ok {
		t.Fatalf("old password still active")
	}
}

func TestConsoleBanAndUnban(t *testing.T) {
	s, _, _ := newTestServer(t)
	admin, _ := join(t, s, "10.0.0.1", "root", wire.ModeGhost)
	target, _ := join(t, s, "10.0.0.2", "rowdy", wire.ModeGhost)
	s.console(admin, "login secret")

	if answer := s.console(admin, "ban abc ip"); !strings.Contains(answer, "Invalid client id") {
		t.Fatalf("bad id must answer, got %q", answer)
	}
	if answer := s.console(admin, "ban 999 ip"); !strings.Contains(answer, "failed") {
		t.Fatalf("unknown session must answer, got %q", answer)
	}
	answer := s.console(admin, fmt.Sprintf("ban %d profile 2", target.ID))
	if !strings.Contains(answer, "Ban 1 added") {
		t.Fatalf("ban: %q", answer)
	}
	if answer := s.console(admin, "lsbans"); !strings.Contains(answer, "profile=rowdy") {
		t.Fatalf("lsbans: %q", answer)
	}
	if answer := s.console(admin, "unban 1"); answer != "Ban 1 removed." {
		t.Fatalf("unban: %q", answer)
	}
	if answer := s.console(admin, "lsbans"); answer != "No active ban." {
		t.Fatalf("ban should be gone: %q", answer)
	}
}

func TestConsolePlayersAndStats(t *testing.T) {
	s, _, _ := newTestServer(t)
	admin, _ := join(t, s, "10.0.0.1", "root", wire.ModeSlave)
	join(t, s, "10.0.0.2", "boro", wire.ModeGhost)
	s.console(admin, "login secret")

	players := s.console(admin, "lsplayers")
	if !strings.Contains(players, "root") || !strings.Contains(players, "boro") {
		t.Fatalf("lsplayers: %q", players)
	}
	if !strings.Contains(players, "slave") || !strings.Contains(players, "ghost") {
		t.Fatalf("lsplayers should show modes: %q", players)
	}
	versions := s.console(admin, "lsversions")
	if !strings.Contains(versions, "1.0.0") {
		t.Fatalf("lsversions: %q", versions)
	}
	stats := s.console(admin, "stats")
	if !strings.Contains(stats, "Phase: waiting") || !strings.Contains(stats, "TCP:") {
		t.Fatalf("stats: %q", stats)
	}
}

func TestConsoleMessageBroadcast(t *testing.T) {
	s, _, _ := newTestServer(t)
	admin, adminConn := join(t, s, "10.0.0.1", "root", wire.ModeGhost)
	_, otherConn := join(t, s, "10.0.0.2", "boro", wire.ModeGhost)
	s.console(admin, "login secret")

	if answer := s.console(admin, "msg server restarting soon"); answer != "Message sent." {
		t.Fatalf("msg: %q", answer)
	}
	for _, conn := range []*stubConn{adminConn, otherConn} {
		got := actionsOf(t, conn, "message")
		if len(got) != 1 || got[0].Source != wire.SourceServer {
			t.Fatalf("expected one server-sourced message, got %d", len(got))
		}
		if got[0].Action.(wire.ChatMessage).Message != "server restarting soon" {
			t.Fatalf("unexpected text %+v", got[0].Action)
		}
	}
}

func TestConsoleReloadRulesAndUnknown(t *testing.T) {
	s, _, _ := newTestServer(t)
	sess, _ := join(t, s, "10.0.0.1", "root", wire.ModeGhost)
	s.console(sess, "login secret")

	if answer := s.console(sess, "reloadrules"); answer != "Rules reloaded." {
		t.Fatalf("reloadrules: %q", answer)
	}
	if answer := s.console(sess, "frobnicate"); !strings.Contains(answer, "Unknown command") {
		t.Fatalf("unknown verb must answer, got %q", answer)
	}
	if answer := s.console(sess, "   "); answer != "Empty command. Try help." {
		t.Fatalf("empty command must answer, got %q", answer)
	}
}
