//go:build !integration

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/relgraph/internal/intro"
	"github.com/sells-group/relgraph/internal/model"
)

func TestFormatIntros(t *testing.T) {
	res := &intro.Result{
		Target: intro.Target{Raw: "Acme"},
		Intros: []intro.Intro{
			{
				Connector: "alice@partner.io",
				Hops:      2,
				Strength:  112.5,
				Path: model.Path{
					Hops: []model.Hop{
						{From: "me@example.com", To: "alice@partner.io", Type: model.RelKnows},
						{From: "alice@partner.io", To: "dana@acme.com", Type: model.RelLinkedInConnected},
					},
					Target: model.Person{Email: "dana@acme.com", Name: "Dana Reed"},
				},
			},
		},
	}

	var buf bytes.Buffer
	formatIntros(&buf, res)
	out := buf.String()

	assert.Contains(t, out, "CONNECTOR")
	assert.Contains(t, out, "Dana Reed <dana@acme.com>")
	assert.Contains(t, out, "112.5")
	assert.Contains(t, out, "me@example.com -KNOWS-> alice@partner.io -LINKEDIN_CONNECTED-> dana@acme.com")
}

func TestFormatIntros_Direct(t *testing.T) {
	res := &intro.Result{
		Direct: true,
		Intros: []intro.Intro{{
			Connector: "bob@x.com",
			Direct:    true,
			Hops:      1,
			Path: model.Path{
				Hops:   []model.Hop{{From: "me@example.com", To: "bob@x.com", Type: model.RelKnows}},
				Target: model.Person{Email: "bob@x.com"},
			},
		}},
	}

	var buf bytes.Buffer
	formatIntros(&buf, res)
	assert.Contains(t, buf.String(), "bob@x.com (direct)")
}

func TestFormatIntros_Empty(t *testing.T) {
	var buf bytes.Buffer
	formatIntros(&buf, &intro.Result{Target: intro.Target{Raw: "nobody"}})
	assert.Equal(t, "No path to \"nobody\".\n", buf.String())
}
