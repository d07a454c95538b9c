/*
Package machine implements the host-side runtime for an MP/M II guest: a
bank-switched virtual 8-bit machine, its extended I/O system (XIOS), disk
store, console registry, and the host/guest file-transfer bridge.

The actual instruction-set emulation is deliberately out of scope; an
external CPU library drives execution and calls back into this package
through the [CPU], [MemoryBus] and [Ports] contracts whenever the guest
touches memory or writes the XIOS dispatch port. This package owns
everything the guest's memory and I/O-port accesses are ultimately backed
by:

  - [Banks] is the bank-switched memory behind the guest's 64 KiB address
    space: a lower banked window selected by a latch, and a common window
    shared by every bank.

  - [Disks] is the drive registry. Each mounted [Drive] knows its host
    image, geometry, and disk parameter block, and translates the guest's
    128-byte logical records onto the host image's physical sectors,
    applying the format's skew table where one applies.

  - [Consoles] is the fixed array of up to 8 terminal slots the guest's
    BIOS can address, each with bounded, single-producer/single-consumer
    input and output queues.

  - [Bridge] is the thread-safe request/reply queue the guest's resident
    system process uses to serve file requests from external host
    clients while the guest runs.

  - [XIOS] is the dispatcher: it receives a function code from the guest
    accumulator over a dispatch port and performs the requested
    operation against the four components above.

  - [Runtime] drives the whole thing: it steps the guest through the CPU
    contract in batches and delivers the 60Hz timer interrupt. It does not
    poll the bridge; the guest reaches the bridge through XIOS.

  - [Boot] reads the first 64 KiB of drive A into bank 0 and the common
    region and arranges for execution to start at address 0.
*/
package machine
