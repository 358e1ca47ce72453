package runner

import (
	"strings"
	"testing"

	"github.com/Qccccc512/incnet/srcs/go/utils/assert"
)

func Test_updatedEnvFrom(t *testing.T) {
	oldEnvs := []string{
		`X=1`,
		`Y=Z=2`,
	}
	newValues := make(Envs)
	newValues[`X`] = "2"
	newEnvs := updatedEnvFrom(newValues, oldEnvs)
	assert.True(len(newEnvs) == 2)
	envMap := parseEnv(newEnvs)
	assert.True(envMap[`X`] == `2`)
	assert.True(envMap[`Y`] == `Z=2`)
}

func Test_Merge(t *testing.T) {
	e := Envs{`A`: `1`, `B`: `1`}
	f := Envs{`B`: `2`}
	g := Merge(e, f)
	if g[`A`] != `1` || g[`B`] != `2` {
		t.Errorf("merged envs %v", g)
	}
	g.AddIfMissing(`B`, `3`)
	g.AddIfMissing(`C`, `3`)
	if g[`B`] != `2` || g[`C`] != `3` {
		t.Errorf("envs after AddIfMissing %v", g)
	}
}

func Test_Script(t *testing.T) {
	p := Proc{
		Name: `h.1`,
		Prog: `inc-ring`,
		Args: []string{`-packets`, `16`},
		Envs: Envs{`INCNET_SELF_RANK`: `1`},
	}
	s := p.Script()
	for _, part := range []string{`env`, `INCNET_SELF_RANK="1"`, `inc-ring`, `-packets`} {
		if !strings.Contains(s, part) {
			t.Errorf("script misses %q:\n%s", part, s)
		}
	}
}
