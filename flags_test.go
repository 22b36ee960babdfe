package krb5mech

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagWordRoundTrip(t *testing.T) {
	var tests = []struct {
		name  string
		flags ContextFlag
	}{
		{"none", 0},
		{"mutual+conf+integ", ContextFlagMutual | ContextFlagConf | ContextFlagInteg},
		{"defaults", defaultRequestFlags},
		{"all", ContextFlagDeleg | ContextFlagMutual | ContextFlagReplay | ContextFlagSequence |
			ContextFlagConf | ContextFlagInteg | ContextFlagDceStyle | ContextFlagIdentify | ContextFlagExtError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeFlagWord(encodeFlagWord(tt.flags))
			assert.Equal(t, tt.flags, got)
		})
	}
}

func TestFlagListAndString(t *testing.T) {
	f := ContextFlagMutual | ContextFlagConf

	fl := FlagList(f)
	assert.Len(t, fl, 2)
	assert.Contains(t, fl, ContextFlagMutual)
	assert.Contains(t, fl, ContextFlagConf)

	assert.Equal(t, "mutual_auth, confidentiality", f.String())
}

func TestFlagListIgnoresUnknownBits(t *testing.T) {
	f := ContextFlag(0x80000000)
	assert.Empty(t, FlagList(f))
	assert.Equal(t, "", f.String())
}
