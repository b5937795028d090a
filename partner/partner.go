package partner

import (
	"errors"
	"fmt"
)

var ErrUnknownDomain = errors.New("unknown partner domain")

// Domain tags the listing directory that hosts a conversation.
type Domain string

const (
	Vet       Domain = "vet"
	Trainer   Domain = "trainer"
	Shop      Domain = "shop"
	LostFound Domain = "lostfound"
	PetSocial Domain = "petsocial"
)

// Surface discriminates the lost-and-found domain, which keeps lost pet and
// found pet posts in separate partitions. Other domains ignore it.
type Surface string

const (
	SurfaceNone  Surface = ""
	SurfaceLost  Surface = "lost"
	SurfaceFound Surface = "found"
)

// Binding names the storage partition and the record fields of one domain.
type Binding struct {
	Partition   string
	IDField     string
	NameField   string
	AvatarField string
}

// Domains returns all partner domains in a fixed order.
func Domains() []Domain {
	return []Domain{Vet, Trainer, Shop, LostFound, PetSocial}
}

// ParseDomain converts a wire tag into a Domain.
func ParseDomain(tag string) (Domain, error) {
	d := Domain(tag)
	if _, err := Resolve(d, SurfaceNone); err != nil {
		return "", err
	}
	return d, nil
}

// ParseSurface converts a wire tag into a Surface.
func ParseSurface(s string) (Surface, error) {
	switch v := Surface(s); v {
	case SurfaceNone, SurfaceLost, SurfaceFound:
		return v, nil
	}
	return "", fmt.Errorf("%w: surface %q", ErrUnknownDomain, s)
}

// CanonicalSurface returns the surface that names s's partition: lost for
// a lost-and-found conversation without one, s otherwise.
func CanonicalSurface(d Domain, s Surface) Surface {
	if d == LostFound && s == SurfaceNone {
		return SurfaceLost
	}
	return s
}

// Resolve maps a domain (and, for lost-and-found, a surface) to its binding.
// It has no side effects.
func Resolve(d Domain, s Surface) (Binding, error) {
	switch d {
	case Vet:
		return Binding{Partition: "vetChats", IDField: "doctorId", NameField: "doctorName", AvatarField: "doctorAvatar"}, nil
	case Trainer:
		return Binding{Partition: "trainerChats", IDField: "trainerId", NameField: "trainerName", AvatarField: "trainerAvatar"}, nil
	case Shop:
		return Binding{Partition: "shopChats", IDField: "shopId", NameField: "shopName", AvatarField: "shopLogo"}, nil
	case LostFound:
		b := Binding{IDField: "postId", NameField: "posterName", AvatarField: "posterAvatar"}
		switch s {
		case SurfaceNone, SurfaceLost:
			b.Partition = "lostPetChats"
		case SurfaceFound:
			b.Partition = "foundPetChats"
		default:
			return Binding{}, fmt.Errorf("%w: %s surface %q", ErrUnknownDomain, d, s)
		}
		return b, nil
	case PetSocial:
		return Binding{Partition: "petSocialChats", IDField: "petId", NameField: "petName", AvatarField: "petAvatar"}, nil
	}
	return Binding{}, fmt.Errorf("%w: %q", ErrUnknownDomain, string(d))
}
