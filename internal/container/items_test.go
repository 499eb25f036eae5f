package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benkle-apps/sergio/internal/engine"
)

func TestParseRPC(t *testing.T) {
	t.Run("target action and parameters", func(t *testing.T) {
		rpc, err := ParseRPC([]string{"db", "migrate", "version=12", "mode=fast"})
		require.NoError(t, err)
		assert.Equal(t, "db", rpc.Target)
		assert.Equal(t, "migrate", rpc.Action)
		assert.Equal(t, map[string]string{"version": "12", "mode": "fast"}, rpc.Params)
	})

	t.Run("values keep everything after the first equals sign", func(t *testing.T) {
		rpc, err := ParseRPC([]string{"db", "set", "dsn=host=local;port=5432"})
		require.NoError(t, err)
		assert.Equal(t, "host=local;port=5432", rpc.Params["dsn"])
	})

	t.Run("empty tokens are dropped", func(t *testing.T) {
		rpc, err := ParseRPC([]string{"", "db", "", "migrate"})
		require.NoError(t, err)
		assert.Equal(t, "db", rpc.Target)
		assert.Equal(t, "migrate", rpc.Action)
	})

	t.Run("too few arguments fail", func(t *testing.T) {
		_, err := ParseRPC([]string{"db"})
		assert.Error(t, err)
	})

	t.Run("bare parameters fail", func(t *testing.T) {
		_, err := ParseRPC([]string{"db", "migrate", "fast"})
		assert.Error(t, err)
	})
}

func TestRPC_Run(t *testing.T) {
	t.Run("self targets the caller with expanded parameters", func(t *testing.T) {
		f := newFixture(t, nil)
		notify := NewStack([]Item{&RPC{Target: "self", Action: "greet", Params: map[string]string{"who": "world"}}})
		greet := NewStack([]Item{Shell("echo hello $who from $caller")})
		c, inst := runningContainer(f, Spec{
			ID: "x", Name: "x",
			Actions: map[string]*Stack{"notify": notify, "greet": greet},
		})

		require.NoError(t, c.ExecuteAction("notify", nil))
		assert.Equal(t, []string{"echo hello world from x"}, inst.shells)
	})

	t.Run("parameter values expand against the caller scope", func(t *testing.T) {
		f := newFixture(t, nil)
		deploy := NewStack([]Item{&RPC{Target: "worker", Action: "pull", Params: map[string]string{"tag": "$release"}}})
		pull := NewStack([]Item{Shell("fetch $tag")})
		caller, _ := runningContainer(f, Spec{
			ID: "ctl", Name: "ctl",
			Variables: map[string]string{"release": "v2"},
			Actions:   map[string]*Stack{"deploy": deploy},
		})
		_, workerInst := runningContainer(f, Spec{
			ID: "worker", Name: "worker",
			Actions: map[string]*Stack{"pull": pull},
		})

		require.NoError(t, caller.ExecuteAction("deploy", nil))
		assert.Equal(t, []string{"fetch v2"}, workerInst.shells)
	})
}

func TestParseDumpFile(t *testing.T) {
	t.Run("bare filename", func(t *testing.T) {
		item, err := ParseDumpFile([]string{"/etc/motd"})
		require.NoError(t, err)
		assert.Equal(t, &DumpFile{Filename: "/etc/motd"}, item)
	})

	t.Run("chown and chmod prefixes", func(t *testing.T) {
		item, err := ParseDumpFile([]string{"chown=www:www", "chmod=0600", "/etc/nginx/nginx.conf"})
		require.NoError(t, err)
		assert.Equal(t, "www:www", item.Chown)
		assert.Equal(t, "0600", item.Chmod)
		assert.Equal(t, "/etc/nginx/nginx.conf", item.Filename)
	})

	t.Run("filename with spaces", func(t *testing.T) {
		item, err := ParseDumpFile([]string{"/srv/my", "file.txt"})
		require.NoError(t, err)
		assert.Equal(t, "/srv/my file.txt", item.Filename)
	})

	t.Run("missing filename fails", func(t *testing.T) {
		_, err := ParseDumpFile([]string{"chown=root:root"})
		assert.Error(t, err)
	})
}

func TestDumpFile_Run(t *testing.T) {
	t.Run("writes the payload and applies ownership", func(t *testing.T) {
		f := newFixture(t, nil)
		c, inst := runningContainer(f, Spec{
			ID: "web", Name: "web", User: "deploy",
			Files: map[string]FileSource{"/etc/motd": Literal("welcome to $_name")},
		})

		require.NoError(t, (&DumpFile{Filename: "/etc/motd"}).Run(c, nil))

		assert.Equal(t, [][]string{{"mkdir", "-p", "/etc"}}, inst.execs)
		assert.Equal(t, []byte("welcome to web"), inst.files["/etc/motd"])
		assert.Equal(t, []string{"chown deploy:deploy /etc/motd", "chmod 0755 /etc/motd"}, inst.shells)
	})

	t.Run("explicit chown and chmod win", func(t *testing.T) {
		f := newFixture(t, nil)
		c, inst := runningContainer(f, Spec{
			ID: "web", Name: "web",
			Files: map[string]FileSource{"/srv/app.conf": Literal("x")},
		})

		item := &DumpFile{Filename: "/srv/app.conf", Chown: "www:www", Chmod: "0600"}
		require.NoError(t, item.Run(c, nil))
		assert.Equal(t, []string{"chown www:www /srv/app.conf", "chmod 0600 /srv/app.conf"}, inst.shells)
	})

	t.Run("payload is looked up under the unexpanded key", func(t *testing.T) {
		f := newFixture(t, nil)
		c, inst := runningContainer(f, Spec{
			ID: "web", Name: "web",
			Variables: map[string]string{"confdir": "/etc/app"},
			Files:     map[string]FileSource{"$confdir/app.conf": Literal("key=value")},
		})

		require.NoError(t, (&DumpFile{Filename: "$confdir/app.conf"}).Run(c, nil))
		assert.Equal(t, []byte("key=value"), inst.files["/etc/app/app.conf"])
	})

	t.Run("unknown payload fails", func(t *testing.T) {
		f := newFixture(t, nil)
		c, _ := runningContainer(f, Spec{ID: "web", Name: "web"})

		err := (&DumpFile{Filename: "/missing"}).Run(c, nil)
		var notFound FileNotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestParseTransfer(t *testing.T) {
	t.Run("direction aliases", func(t *testing.T) {
		for _, token := range []string{"d", "down", "<"} {
			item, err := ParseTransfer([]string{token, "db", "/a", "/b"})
			require.NoError(t, err)
			assert.False(t, item.Up, token)
		}
		for _, token := range []string{"u", "up", ">"} {
			item, err := ParseTransfer([]string{token, "db", "/a", "/b"})
			require.NoError(t, err)
			assert.True(t, item.Up, token)
		}
	})

	t.Run("unknown direction fails", func(t *testing.T) {
		_, err := ParseTransfer([]string{"sideways", "db", "/a", "/b"})
		var bad BadDirectionError
		require.ErrorAs(t, err, &bad)
		assert.Equal(t, "sideways", bad.Token)
	})

	t.Run("wrong arity fails", func(t *testing.T) {
		_, err := ParseTransfer([]string{"down", "db", "/a"})
		assert.Error(t, err)
	})
}

func TestTransfer_Run(t *testing.T) {
	t.Run("down copies from the other container and chowns locally", func(t *testing.T) {
		f := newFixture(t, nil)
		c, inst := runningContainer(f, Spec{ID: "web", Name: "web", User: "app"})
		_, dbInst := runningContainer(f, Spec{ID: "db", Name: "db", User: "postgres"})
		dbInst.files = map[string][]byte{"/var/dump.sql": []byte("data")}

		item := &Transfer{Up: false, Other: "db", Src: "/var/dump.sql", Dst: "/tmp/dump.sql"}
		require.NoError(t, item.Run(c, nil))

		assert.Equal(t, []byte("data"), inst.files["/tmp/dump.sql"])
		assert.Equal(t, []string{"chown app:app /tmp/dump.sql"}, inst.shells)
		assert.Empty(t, dbInst.shells)
	})

	t.Run("up copies into the other container and chowns there", func(t *testing.T) {
		f := newFixture(t, nil)
		c, inst := runningContainer(f, Spec{ID: "web", Name: "web", User: "app"})
		_, dbInst := runningContainer(f, Spec{ID: "db", Name: "db", User: "postgres"})
		inst.files = map[string][]byte{"/srv/seed.sql": []byte("seed")}

		item := &Transfer{Up: true, Other: "db", Src: "/srv/seed.sql", Dst: "/var/seed.sql"}
		require.NoError(t, item.Run(c, nil))

		assert.Equal(t, []byte("seed"), dbInst.files["/var/seed.sql"])
		assert.Equal(t, []string{"chown postgres:postgres /var/seed.sql"}, dbInst.shells)
	})

	t.Run("a stopped side fails the transfer", func(t *testing.T) {
		f := newFixture(t, nil)
		c, _ := runningContainer(f, Spec{ID: "web", Name: "web"})
		f.eng.instance("db", "Stopped")
		f.add(Spec{ID: "db", Name: "db"})

		item := &Transfer{Other: "db", Src: "/a", Dst: "/b"}
		assert.ErrorIs(t, item.Run(c, nil), ErrNotRunning)
	})
}

func TestRemoveFile_Run(t *testing.T) {
	t.Run("removes an existing file", func(t *testing.T) {
		f := newFixture(t, nil)
		c, inst := runningContainer(f, Spec{ID: "web", Name: "web"})
		inst.files = map[string][]byte{"/tmp/x": nil}

		require.NoError(t, (&RemoveFile{Filename: "/tmp/x"}).Run(c, nil))
		assert.NotContains(t, inst.files, "/tmp/x")
	})

	t.Run("a missing file is not an error", func(t *testing.T) {
		f := newFixture(t, nil)
		c, _ := runningContainer(f, Spec{ID: "web", Name: "web"})

		assert.NoError(t, (&RemoveFile{Filename: "/tmp/gone"}).Run(c, nil))
	})
}

func TestEcho_Run(t *testing.T) {
	f := newFixture(t, map[string]string{"env": "staging"})
	c, inst := runningContainer(f, Spec{ID: "web", Name: "web"})

	require.NoError(t, (&Echo{Text: "deploying to $env"}).Run(c, nil))
	assert.Contains(t, f.out.String(), "[web] deploying to staging")
	assert.Empty(t, inst.shells)
	assert.Empty(t, inst.execs)
}

func TestContainer_GetIP(t *testing.T) {
	network := map[string][]engine.Address{
		"eth0": {
			{Family: "inet", Address: "10.0.0.5"},
			{Family: "inet", Address: "10.0.0.6"},
			{Family: "inet6", Address: "fd42::5"},
		},
		"eth1": {
			{Family: "inet", Address: "192.168.1.2"},
		},
	}

	t.Run("first address of the family wins", func(t *testing.T) {
		f := newFixture(t, nil)
		c, inst := runningContainer(f, Spec{ID: "web", Name: "web"})
		inst.network = network

		ip, err := c.GetIP("eth0", 4)
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.5", ip)

		ip6, err := c.GetIP("eth0", 6)
		require.NoError(t, err)
		assert.Equal(t, "fd42::5", ip6)
	})

	t.Run("empty device defaults to eth0", func(t *testing.T) {
		f := newFixture(t, nil)
		c, inst := runningContainer(f, Spec{ID: "web", Name: "web"})
		inst.network = network

		ip, err := c.GetIP("", 4)
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.5", ip)
	})

	t.Run("unknown device fails", func(t *testing.T) {
		f := newFixture(t, nil)
		c, inst := runningContainer(f, Spec{ID: "web", Name: "web"})
		inst.network = network

		_, err := c.GetIP("wlan0", 4)
		var noDevice NoSuchDeviceError
		require.ErrorAs(t, err, &noDevice)
		assert.Equal(t, "wlan0", noDevice.Device)
	})

	t.Run("known device without the family reports no address", func(t *testing.T) {
		f := newFixture(t, nil)
		c, inst := runningContainer(f, Spec{ID: "web", Name: "web"})
		inst.network = network

		_, err := c.GetIP("eth1", 6)
		var noAddress NoAddressError
		assert.ErrorAs(t, err, &noAddress)
	})
}
