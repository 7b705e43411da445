package link

import (
	"github.com/xyproto/tmixdynld/internal/elfimage"
	"github.com/xyproto/tmixdynld/internal/errs"
	"github.com/xyproto/tmixdynld/internal/mapper"
)

// FreezeRelro re-protects every RELRO range in desc to read-only. It must
// run after Apply has finished patching every relocation, since most RELRO
// ranges are exactly the GOT entries Apply just wrote — see spec.md §6.
func FreezeRelro(ctx *elfimage.Context, m mapper.Mapper, img *mapper.Image, desc *elfimage.Descriptor) error {
	for _, rr := range desc.RelroRanges {
		if rr.Empty() {
			continue
		}
		ctx.Logf("relro: freezing range +%#x..+%#x\n", rr.Offset, rr.Offset+rr.Size)
		if err := m.Protect(img, rr.Offset, rr.Size, elfimage.ProtRead); err != nil {
			return errs.Wrap(errs.PhaseRelro, errs.KindMappingFailed, "", err)
		}
	}
	return nil
}
