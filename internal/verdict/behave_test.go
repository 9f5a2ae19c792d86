package verdict_test

import (
	"context"
	"strings"
	"testing"

	"github.com/programme-lv/probpipe/internal/behave"
	"github.com/stretchr/testify/require"
)

func TestBehaviourScenarios(t *testing.T) {
	cases, err := behave.Parse("testdata/behaviour.toml")
	require.NoError(t, err)
	require.NotEmpty(t, cases)

	for _, c := range cases {
		t.Run(c.Name, func(t *testing.T) {
			e, p := setup(t, c.Files)
			sol, ok := p.Solution(c.Candidate)
			require.True(t, ok, c.Candidate)
			ts, ok := p.TestSet(behave.TestSetName)
			require.True(t, ok)
			require.Len(t, ts.Cases, len(c.Verdicts))

			for i, tc := range ts.Cases {
				v, err := e.Judge(context.Background(), p, sol, tc)
				require.NoError(t, err)
				require.Equal(t, c.Verdicts[i], v.Verdict, "test %s", c.Cases[i])
				if i < len(c.Comments) {
					require.True(t, strings.HasPrefix(v.Comment, c.Comments[i]), "comment %q", v.Comment)
				}
			}
		})
	}
}
