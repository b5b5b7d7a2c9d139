package mutate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeClassesReplacesSameGroup(t *testing.T) {
	cases := []struct {
		name     string
		existing string
		incoming string
		want     string
	}{
		{
			name:     "text color swap keeps position",
			existing: "text-sm text-blue-500 font-bold",
			incoming: "text-red-500",
			want:     "text-sm text-red-500 font-bold",
		},
		{
			name:     "size and color are different groups",
			existing: "text-sm text-blue-500",
			incoming: "text-sm text-red-500",
			want:     "text-sm text-red-500",
		},
		{
			name:     "background color",
			existing: "bg-white p-4",
			incoming: "bg-gray-100",
			want:     "bg-gray-100 p-4",
		},
		{
			name:     "unrelated class appends",
			existing: "flex items-center",
			incoming: "gap-2",
			want:     "flex items-center gap-2",
		},
		{
			name:     "spacing scale conflict",
			existing: "p-2 m-4",
			incoming: "p-8",
			want:     "p-8 m-4",
		},
		{
			name:     "variant prefixed color replaces same variant",
			existing: "hover:text-blue-500 text-sm",
			incoming: "hover:text-red-500",
			want:     "hover:text-red-500 text-sm",
		},
		{
			name:     "dark twin is evicted with the light class",
			existing: "text-gray-900 dark:text-gray-100",
			incoming: "text-red-500",
			want:     "text-red-500",
		},
		{
			name:     "arbitrary value grouped by prefix",
			existing: "bg-[#336699] text-sm",
			incoming: "bg-red-500",
			want:     "bg-red-500 text-sm",
		},
		{
			name:     "empty existing",
			existing: "",
			incoming: "text-lg",
			want:     "text-lg",
		},
		{
			name:     "idempotent",
			existing: "text-sm text-red-500",
			incoming: "text-red-500",
			want:     "text-sm text-red-500",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MergeClasses(tc.existing, tc.incoming))
		})
	}
}

func TestGroupOf(t *testing.T) {
	assert.Equal(t, groupOf("text-sm"), groupOf("text-2xl"))
	assert.Equal(t, groupOf("text-red-500"), groupOf("text-blue-300"))
	assert.NotEqual(t, groupOf("text-sm"), groupOf("text-red-500"))
	assert.Equal(t, groupOf("p-2"), groupOf("p-8"))
	assert.NotEqual(t, groupOf("p-2"), groupOf("px-2"))
	assert.Equal(t, "", groupOf("whatever-custom"))
}
