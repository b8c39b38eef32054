package acquire

import (
	"slices"
	"strings"
	"testing"
)

func TestMixArgs(t *testing.T) {
	t.Parallel()

	args := mixArgs("/srv/rain.mp3", "/cache/plain_abc.mp3", "/cache/rain_abc.mp3")

	// The looping flag must precede the bed input so only the bed loops.
	loop := slices.Index(args, "-stream_loop")
	if loop == -1 || args[loop+1] != "-1" {
		t.Fatalf("missing -stream_loop -1 in %v", args)
	}
	bed := slices.Index(args, "/srv/rain.mp3")
	if bed == -1 || loop > bed {
		t.Errorf("-stream_loop must come before the bed input, got %v", args)
	}

	track := slices.Index(args, "/cache/plain_abc.mp3")
	if track == -1 || track < bed {
		t.Errorf("track input must follow the bed input, got %v", args)
	}

	fc := slices.Index(args, "-filter_complex")
	if fc == -1 {
		t.Fatalf("missing -filter_complex in %v", args)
	}
	filter := args[fc+1]
	for _, want := range []string{"volume=0.75", "volume=1", "amerge"} {
		if !strings.Contains(filter, want) {
			t.Errorf("filter %q missing %q", filter, want)
		}
	}

	if !slices.Contains(args, "-shortest") {
		t.Errorf("missing -shortest in %v", args)
	}
	if args[len(args)-1] != "/cache/rain_abc.mp3" {
		t.Errorf("destination must be the final argument, got %v", args)
	}
}
