package console

import "redshift/kernel/hal/multiboot"

var getFramebufferInfoFn = multiboot.GetFramebufferInfo
