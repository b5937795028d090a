package partner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAllDomains(t *testing.T) {
	seen := make(map[string]Domain)
	for _, d := range Domains() {
		b, err := Resolve(d, SurfaceNone)
		require.NoError(t, err, d)
		assert.NotEmpty(t, b.Partition)
		assert.NotEmpty(t, b.IDField)
		assert.NotEmpty(t, b.NameField)
		assert.NotEmpty(t, b.AvatarField)

		if other, ok := seen[b.Partition]; ok {
			t.Fatalf("partition %s shared by %s and %s", b.Partition, other, d)
		}
		seen[b.Partition] = d
	}
}

func TestResolveFields(t *testing.T) {
	b, err := Resolve(Vet, SurfaceNone)
	require.NoError(t, err)
	assert.Equal(t, Binding{Partition: "vetChats", IDField: "doctorId", NameField: "doctorName", AvatarField: "doctorAvatar"}, b)

	b, err = Resolve(PetSocial, SurfaceNone)
	require.NoError(t, err)
	assert.Equal(t, "petId", b.IDField)
}

func TestResolveLostFoundSurface(t *testing.T) {
	lost, err := Resolve(LostFound, SurfaceLost)
	require.NoError(t, err)
	def, err := Resolve(LostFound, SurfaceNone)
	require.NoError(t, err)
	found, err := Resolve(LostFound, SurfaceFound)
	require.NoError(t, err)

	assert.Equal(t, lost, def)
	assert.Equal(t, "lostPetChats", lost.Partition)
	assert.Equal(t, "foundPetChats", found.Partition)
	assert.Equal(t, lost.IDField, found.IDField)

	_, err = Resolve(LostFound, Surface("adopted"))
	assert.ErrorIs(t, err, ErrUnknownDomain)
}

func TestCanonicalSurface(t *testing.T) {
	assert.Equal(t, SurfaceLost, CanonicalSurface(LostFound, SurfaceNone))
	assert.Equal(t, SurfaceLost, CanonicalSurface(LostFound, SurfaceLost))
	assert.Equal(t, SurfaceFound, CanonicalSurface(LostFound, SurfaceFound))
	assert.Equal(t, SurfaceNone, CanonicalSurface(Vet, SurfaceNone))
}

func TestResolveUnknown(t *testing.T) {
	_, err := Resolve(Domain("groomer"), SurfaceNone)
	assert.ErrorIs(t, err, ErrUnknownDomain)

	_, err = ParseDomain("")
	assert.ErrorIs(t, err, ErrUnknownDomain)

	d, err := ParseDomain("shop")
	assert.NoError(t, err)
	assert.Equal(t, Shop, d)

	_, err = ParseSurface("nowhere")
	assert.ErrorIs(t, err, ErrUnknownDomain)
}
