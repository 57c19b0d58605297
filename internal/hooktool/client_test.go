// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hooktool_test

import (
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
	"gopkg.in/yaml.v2"

	"github.com/canonical/cos-registration-server-k8s-operator/internal/hooktool"
)

type call struct {
	tool string
	args []string
	file map[string]string
}

type fakeRunner struct {
	calls   []call
	outputs map[string]string
	errs    map[string]error
}

func (r *fakeRunner) Run(tool string, args ...string) ([]byte, error) {
	cl := call{tool: tool, args: args}
	for i, arg := range args {
		if arg == "--file" && i+1 < len(args) {
			data, err := os.ReadFile(args[i+1])
			if err != nil {
				return nil, err
			}
			cl.file = make(map[string]string)
			if err := yaml.Unmarshal(data, &cl.file); err != nil {
				return nil, err
			}
			cl.args = append(append([]string{}, args[:i+1]...), "<file>")
		}
	}
	r.calls = append(r.calls, cl)
	if err := r.errs[tool]; err != nil {
		return nil, err
	}
	return []byte(r.outputs[tool]), nil
}

type clientSuite struct {
	runner *fakeRunner
	client *hooktool.Client
}

var _ = gc.Suite(&clientSuite{})

func (s *clientSuite) SetUpTest(c *gc.C) {
	s.runner = &fakeRunner{outputs: make(map[string]string), errs: make(map[string]error)}
	s.client = hooktool.NewClient(s.runner)
}

func (s *clientSuite) TestIsLeader(c *gc.C) {
	s.runner.outputs["is-leader"] = "true\n"
	leader, err := s.client.IsLeader()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(leader, jc.IsTrue)
	c.Assert(s.runner.calls, jc.DeepEquals, []call{{tool: "is-leader", args: []string{"--format=json"}}})
}

func (s *clientSuite) TestIsLeaderError(c *gc.C) {
	s.runner.errs["is-leader"] = &hooktool.ToolError{Tool: "is-leader", Code: 1, Stderr: "boom\n"}
	_, err := s.client.IsLeader()
	c.Assert(err, gc.ErrorMatches, "leadership status unknown: is-leader exited 1: boom")
}

func (s *clientSuite) TestConfigGet(c *gc.C) {
	s.runner.outputs["config-get"] = `{"log-level": "debug"}`
	settings, err := s.client.ConfigGet()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(settings, jc.DeepEquals, map[string]interface{}{"log-level": "debug"})
}

func (s *clientSuite) TestStorageList(c *gc.C) {
	s.runner.outputs["storage-list"] = `["database/0"]`
	ids, err := s.client.StorageList("database")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ids, jc.DeepEquals, []string{"database/0"})
	c.Assert(s.runner.calls[0].args, jc.DeepEquals, []string{"--format=json", "database"})
}

func (s *clientSuite) TestStorageListEmpty(c *gc.C) {
	ids, err := s.client.StorageList("database")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ids, gc.HasLen, 0)
}

func (s *clientSuite) TestRelationGet(c *gc.C) {
	s.runner.outputs["relation-get"] = `{"external_host": "1.2.3.4"}`
	settings, err := s.client.RelationGet("ingress:3", "traefik", true)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(settings, jc.DeepEquals, map[string]string{"external_host": "1.2.3.4"})
	c.Assert(s.runner.calls[0].args, jc.DeepEquals, []string{"--format=json", "-r", "ingress:3", "--app", "-", "traefik"})
}

func (s *clientSuite) TestRelationRemoteApp(c *gc.C) {
	s.runner.outputs["relation-list"] = `"traefik"`
	app, err := s.client.RelationRemoteApp("ingress:3")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(app, gc.Equals, "traefik")
	c.Assert(s.runner.calls[0].args, jc.DeepEquals, []string{"--format=json", "-r", "ingress:3", "--app"})
}

func (s *clientSuite) TestRelationSet(c *gc.C) {
	err := s.client.RelationSet("ingress:3", true, map[string]string{"config": "http: {}\n"})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.runner.calls, jc.DeepEquals, []call{{
		tool: "relation-set",
		args: []string{"-r", "ingress:3", "--app", "--file", "<file>"},
		file: map[string]string{"config": "http: {}\n"},
	}})
}

func (s *clientSuite) TestStatusSet(c *gc.C) {
	err := s.client.StatusSet(false, hooktool.StatusMaintenance, "Assembling pod spec")
	c.Assert(err, jc.ErrorIsNil)
	err = s.client.StatusSet(true, hooktool.StatusActive, "")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.runner.calls, jc.DeepEquals, []call{
		{tool: "status-set", args: []string{"--", "maintenance", "Assembling pod spec"}},
		{tool: "status-set", args: []string{"--application", "--", "active"}},
	})
}

func (s *clientSuite) TestStatusGet(c *gc.C) {
	s.runner.outputs["status-get"] = `{"message":"Waiting for Pebble in workload container","status":"waiting","status-data":{}}`
	status, message, err := s.client.StatusGet()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(status, gc.Equals, hooktool.StatusWaiting)
	c.Check(message, gc.Equals, "Waiting for Pebble in workload container")
	c.Assert(s.runner.calls, jc.DeepEquals, []call{
		{tool: "status-get", args: []string{"--format=json"}},
	})
}

func (s *clientSuite) TestActionSetFlattens(c *gc.C) {
	err := s.client.ActionSet(map[string]interface{}{
		"user":     "admin",
		"password": "s3cret",
		"nested":   map[string]interface{}{"ok": true, "count": 2},
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.runner.calls[0].args, jc.DeepEquals, []string{
		"nested.count=2", "nested.ok=true", "password=s3cret", "user=admin",
	})
}

func (s *clientSuite) TestActionFail(c *gc.C) {
	err := s.client.ActionFail("not ready")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.runner.calls[0], jc.DeepEquals, call{tool: "action-fail", args: []string{"--", "not ready"}})
}

func (s *clientSuite) TestStateGet(c *gc.C) {
	s.runner.outputs["state-get"] = `"value"`
	value, found, err := s.client.StateGet("key")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(found, jc.IsTrue)
	c.Assert(value, gc.Equals, "value")
}

func (s *clientSuite) TestStateGetMissing(c *gc.C) {
	_, found, err := s.client.StateGet("key")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(found, jc.IsFalse)
}

func (s *clientSuite) TestStateSetAndDelete(c *gc.C) {
	c.Assert(s.client.StateSet(map[string]string{"a": "1"}), jc.ErrorIsNil)
	c.Assert(s.client.StateDelete("a", "b"), jc.ErrorIsNil)
	c.Assert(s.runner.calls, jc.DeepEquals, []call{
		{tool: "state-set", args: []string{"--file", "<file>"}, file: map[string]string{"a": "1"}},
		{tool: "state-delete", args: []string{"a"}},
		{tool: "state-delete", args: []string{"b"}},
	})
}

func (s *clientSuite) TestLogWriter(c *gc.C) {
	var fallback strings.Builder
	w := hooktool.NewLogWriter(s.client, &fallback)
	w.Write(loggo.Entry{Level: loggo.WARNING, Module: "cos", Message: "careful"})
	c.Assert(s.runner.calls[0], jc.DeepEquals, call{
		tool: "juju-log", args: []string{"--log-level", "WARNING", "--", "cos: careful"},
	})
	c.Assert(fallback.String(), gc.Equals, "")

	s.runner.errs["juju-log"] = errors.New("no agent")
	w.Write(loggo.Entry{Level: loggo.ERROR, Module: "cos", Message: "lost"})
	c.Assert(fallback.String(), gc.Equals, "ERROR cos: lost\n")
}

type execRunnerSuite struct{}

var _ = gc.Suite(&execRunnerSuite{})

func (s *execRunnerSuite) TestRun(c *gc.C) {
	out, err := hooktool.ExecRunner{Dir: c.MkDir()}.Run("echo", "hello world", "it's")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(string(out), gc.Equals, "hello world it's\n")
}

func (s *execRunnerSuite) TestRunFailure(c *gc.C) {
	_, err := hooktool.ExecRunner{Dir: c.MkDir()}.Run("false")
	c.Assert(err, gc.FitsTypeOf, &hooktool.ToolError{})
	c.Assert(err.(*hooktool.ToolError).Code, gc.Equals, 1)
}
