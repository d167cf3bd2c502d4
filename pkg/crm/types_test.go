package crm

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		ra   ResourceAgent
		want AgentKind
	}{
		{"filesystem", ResourceAgent{"ocf", "heartbeat", "Filesystem"}, AgentFilesystem},
		{"linbit drbd", ResourceAgent{"ocf", "linbit", "drbd"}, AgentLinbitDrbd},
		{"drbd from another provider", ResourceAgent{"ocf", "heartbeat", "drbd"}, AgentGeneric},
		{"drbddisk", ResourceAgent{"heartbeat", "", "drbddisk"}, AgentDrbddisk},
		{"ipaddr", ResourceAgent{"ocf", "heartbeat", "IPaddr"}, AgentIPAddr},
		{"ipaddr2", ResourceAgent{"ocf", "heartbeat", "IPaddr2"}, AgentIPAddr},
		{"virtual domain", ResourceAgent{"ocf", "heartbeat", "VirtualDomain"}, AgentVirtualDomain},
		{"lsb script", ResourceAgent{"lsb", "", "apache2"}, AgentGeneric},
		{"unresolved", ResourceAgent{}, AgentUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.ra); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.ra, got, tt.want)
			}
		})
	}
}

func TestResourceAgentString(t *testing.T) {
	if got := (ResourceAgent{"ocf", "heartbeat", "IPaddr2"}).String(); got != "ocf:heartbeat:IPaddr2" {
		t.Errorf("Expected ocf:heartbeat:IPaddr2, got %s", got)
	}
	if got := (ResourceAgent{"lsb", "", "apache2"}).String(); got != "lsb:apache2" {
		t.Errorf("Expected lsb:apache2, got %s", got)
	}
	if got := (ResourceAgent{}).String(); got != "" {
		t.Errorf("Expected empty string, got %s", got)
	}
}

func TestKindIsContainer(t *testing.T) {
	for _, k := range []Kind{KindGroup, KindClone} {
		if !k.IsContainer() {
			t.Errorf("Expected %s to be a container", k)
		}
	}
	for _, k := range []Kind{KindPrimitive, KindPlaceholder} {
		if k.IsContainer() {
			t.Errorf("Expected %s not to be a container", k)
		}
	}
}
