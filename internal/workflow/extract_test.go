package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"Launch a Podcast!", "launch a podcast"},
		{"  lots\tof   space  ", "lots of space"},
		{"Ship-it, v2.0", "shipit v20"},
		{"", ""},
		{"?!.", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.expected, Normalize(tt.in))
	}
}

func TestExtractOptions_ListMarkup(t *testing.T) {
	texts := []string{
		"Here are my ideas:\n- Launch a podcast\n- Build a newsletter\n",
		"Adding on:\n1. Host a meetup\n2) Launch a podcast\n* Run a survey",
	}

	opts := ExtractOptions(texts, MaxCandidateOptions)
	require.Equal(t, []string{
		"Launch a podcast",
		"Build a newsletter",
		"Host a meetup",
		"Run a survey",
	}, opts)
}

func TestExtractOptions_SentenceFallback(t *testing.T) {
	texts := []string{
		"We could launch a weekly podcast about our industry. I agree with what was said before. Too short. What about a conference?",
	}

	opts := ExtractOptions(texts, MaxCandidateOptions)
	require.Equal(t, []string{"We could launch a weekly podcast about our industry."}, opts)
}

func TestExtractOptions_ListMarkupSuppressesFallback(t *testing.T) {
	texts := []string{
		"- Build a newsletter",
		"We could also launch a weekly podcast about our industry.",
	}

	opts := ExtractOptions(texts, MaxCandidateOptions)
	require.Equal(t, []string{"Build a newsletter"}, opts)
}

func TestExtractOptions_DedupAndCap(t *testing.T) {
	var texts []string
	texts = append(texts, "- Launch a podcast\n- launch a PODCAST!")
	for i := 0; i < 20; i++ {
		texts = append(texts, "- Option number "+string(rune('A'+i)))
	}

	opts := ExtractOptions(texts, MaxCandidateOptions)
	require.Len(t, opts, MaxCandidateOptions)
	require.Equal(t, "Launch a podcast", opts[0])
}

func TestHasAgreement(t *testing.T) {
	require.True(t, HasAgreement(Normalize("I agree, Option A is best")))
	require.True(t, HasAgreement(Normalize("I vote for the newsletter.")))
	require.True(t, HasAgreement(Normalize("We should choose the podcast")))
	require.True(t, HasAgreement(Normalize("Let's go with option two")))
	require.False(t, HasAgreement(Normalize("The podcast could work, but I have doubts.")))
}
