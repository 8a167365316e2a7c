package stats

import "testing"

func TestIncludeLists_Has(t *testing.T) {
	lists := IncludeLists{
		"node":     {"cpu", "memory"},
		"node.cpu": {"percent"},
	}

	if !lists.Has("node", "cpu") {
		t.Error("expected node.cpu to be included")
	}
	if lists.Has("node", "loadavg") {
		t.Error("loadavg is not in the node list")
	}
	if lists.Has("proxy", "name") {
		t.Error("unknown section must include nothing")
	}
}

func TestDefaultIncludeLists(t *testing.T) {
	// The default policy is the contract profile logs are built against;
	// pin the sections that drive column layouts.
	for _, section := range []string{
		"node", "node.cpu", "node.memory", "node.loadavg",
		"process", "process.cpu", "process.memory",
		"proxy", "proxy.frontend", "proxy.backend",
	} {
		if len(DefaultIncludeLists.Fields(section)) == 0 {
			t.Errorf("default include lists missing section %q", section)
		}
	}

	if !DefaultIncludeLists.Has("node.loadavg", "last_5min") {
		t.Error("node.loadavg must include last_5min")
	}
	if DefaultIncludeLists.Has("node.loadavg", "last_1min") {
		t.Error("node.loadavg must not include last_1min")
	}
}
