// Package retry provides the backoff policy that drives broker reconnection.
//
// A Policy is a bounded cycle of attempts with a growing delay between them,
// followed by a cooldown once the cycle is exhausted. The caller owns the attempt
// counter; the policy only answers "how long to wait after attempt n" and "is the
// cycle over".
//
//	policy := retry.ConsumerPolicy()
//	for attempt := 1; ; attempt++ {
//	    if err := connect(ctx); err == nil {
//	        break
//	    }
//	    wait := policy.Delay(attempt)
//	    if policy.Exhausted(attempt) {
//	        wait, attempt = policy.Cooldown, 0
//	    }
//	    if err := retry.Sleep(ctx, wait); err != nil {
//	        return err
//	    }
//	}
//
// Linear delays grow as InitialDelay*n and exponential delays as
// InitialDelay*Multiplier^(n-1). Both are capped at MaxDelay. Jitter adds up
// to 25% on top of the capped delay.
//
// Sleep returns ctx.Err() as soon as the context is cancelled, so loops that
// sleep between attempts stop promptly on shutdown.
package retry
